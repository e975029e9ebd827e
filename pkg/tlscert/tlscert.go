// Package tlscert provisions the relay's TLS material: loading an
// operator-supplied certificate/key pair when present, or generating and
// persisting a self-signed one otherwise, and building the hardened
// tls.Config the Mobile Gateway listens with.
package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/armorclaw/mobilerelay/pkg/logger"
)

// Config configures certificate provisioning.
type Config struct {
	CertPath string
	KeyPath  string
	Hostname string
}

// Material is a loaded or generated certificate/key pair in PEM form.
type Material struct {
	CertPEM []byte
	KeyPEM  []byte
}

// LoadOrGenerate reads an existing certificate/key pair from disk, or
// generates and persists a self-signed one if absent.
func LoadOrGenerate(cfg Config) (*Material, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "mobilerelay.local"
	}

	if _, err := os.Stat(cfg.CertPath); err == nil {
		if _, err := os.Stat(cfg.KeyPath); err == nil {
			certPEM, err := os.ReadFile(cfg.CertPath)
			if err != nil {
				return nil, fmt.Errorf("tlscert: read certificate: %w", err)
			}
			keyPEM, err := os.ReadFile(cfg.KeyPath)
			if err != nil {
				return nil, fmt.Errorf("tlscert: read key: %w", err)
			}
			logger.Global().Info("loaded existing TLS certificate", "path", cfg.CertPath)
			return &Material{CertPEM: certPEM, KeyPEM: keyPEM}, nil
		}
	}

	logger.Global().Info("generating self-signed TLS certificate", "hostname", cfg.Hostname)
	certPEM, keyPEM, err := generateSelfSignedCert(cfg.Hostname)
	if err != nil {
		return nil, fmt.Errorf("tlscert: generate certificate: %w", err)
	}

	if dir := filepath.Dir(cfg.CertPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("tlscert: create cert directory: %w", err)
		}
	}
	if err := os.WriteFile(cfg.CertPath, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("tlscert: write certificate: %w", err)
	}
	if err := os.WriteFile(cfg.KeyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("tlscert: write key: %w", err)
	}

	return &Material{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

func generateSelfSignedCert(hostname string) ([]byte, []byte, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate private key: %w", err)
	}

	ips, err := localIPs()
	if err != nil || len(ips) == 0 {
		ips = []net.IP{net.ParseIP("127.0.0.1")}
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"mobilerelay"},
			CommonName:   hostname,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname, "localhost", "*.local"},
		IPAddresses:           ips,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM, nil
}

func localIPs() ([]net.IP, error) {
	var ips []net.IP

	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			ips = append(ips, ip)
		}
	}

	return ips, nil
}

// ServerTLSConfig builds the hardened TLS 1.3 configuration the Mobile
// Gateway listens with.
func ServerTLSConfig(m *Material) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(m.CertPEM, m.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("tlscert: load key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_128_GCM_SHA256,
		},
	}, nil
}
