// Package relayserver wires the Mobile Gateway and Bridge Tunnel into a
// single relay process: HTTP routing, TLS, Prometheus metrics, the
// pairing/rate-limit sweepers, and graceful shutdown.
package relayserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/mobilerelay/pkg/audit"
	"github.com/armorclaw/mobilerelay/pkg/bridgetunnel"
	"github.com/armorclaw/mobilerelay/pkg/config"
	"github.com/armorclaw/mobilerelay/pkg/credential"
	"github.com/armorclaw/mobilerelay/pkg/gateway"
	"github.com/armorclaw/mobilerelay/pkg/logger"
	"github.com/armorclaw/mobilerelay/pkg/metrics"
	"github.com/armorclaw/mobilerelay/pkg/pairing"
	"github.com/armorclaw/mobilerelay/pkg/security"
	"github.com/armorclaw/mobilerelay/pkg/tlscert"
)

const sweepInterval = "@every 1m"

// Server owns the wired-together relay process: the Mobile Gateway, the
// Bridge Tunnel, their shared security components, and the HTTP
// listeners that expose them.
type Server struct {
	cfg *config.Config

	Gateway *gateway.Gateway
	Tunnel  *bridgetunnel.Tunnel
	Pairing *pairing.Manager

	rateLimit  *security.RateLimiter
	allowlist  *security.IPAllowlist
	auditLog   *audit.Log
	cron       *cron.Cron

	httpServer    *http.Server
	metricsServer *http.Server
}

// New builds a Server from configuration, wiring the Mobile Gateway,
// Bridge Tunnel, and the shared security components together.
func New(cfg *config.Config) (*Server, error) {
	output := cfg.Logging.Output
	if output == "file" {
		output = cfg.Logging.File
	}
	if err := logger.Initialize(cfg.Logging.Level, cfg.Logging.Format, output, "relay"); err != nil {
		return nil, fmt.Errorf("relayserver: build logger: %w", err)
	}
	secLog := logger.NewSecurityLogger(logger.Global())

	var auditLog *audit.Log
	if cfg.Enterprise.AuditLogEnabled {
		var err error
		auditLog, err = audit.New(audit.Config{
			Path:          cfg.Enterprise.AuditLogPath,
			MaxFileSizeMB: cfg.Enterprise.AuditMaxFileSizeMB,
			MaxFiles:      cfg.Enterprise.AuditMaxFiles,
		})
		if err != nil {
			return nil, fmt.Errorf("relayserver: build audit log: %w", err)
		}
	}

	pairingMgr := pairing.NewManager(pairing.Config{
		SessionExpiry: cfg.PairingSessionExpiry(),
		WebSocketURL:  cfg.Relay.PublicURL,
	}, secLog)

	credMgr := credential.NewManager(credential.Config{
		Secret: cfg.Auth.JWTSecret,
		TTL:    cfg.JWTExpiry(),
	})

	validator := security.NewValidator()

	var rateLimit *security.RateLimiter
	if cfg.Enterprise.RateLimitEnabled {
		rateLimit = security.NewRateLimiter(security.RateLimiterConfig{
			RequestsPerMinute:    cfg.Enterprise.RateLimitRequestsPerMinute,
			BlockDurationSeconds: cfg.Enterprise.RateLimitBlockDurationSeconds,
		})
	}

	allowlist := security.NewIPAllowlist(cfg.Enterprise.IPWhitelist, cfg.Enterprise.IPWhitelistEnabled)

	gw := gateway.New(gateway.Config{
		MaxConnections:    cfg.Channels.Mobile.MaxConnections,
		HeartbeatInterval: cfg.HeartbeatInterval(),
	}, pairingMgr, credMgr, validator, rateLimit, auditLog)

	tunnel := bridgetunnel.New(cfg.Bridge.BridgeToken, gw)
	gw.SetForwarder(tunnel)

	c := cron.New()

	return &Server{
		cfg:       cfg,
		Gateway:   gw,
		Tunnel:    tunnel,
		Pairing:   pairingMgr,
		rateLimit: rateLimit,
		allowlist: allowlist,
		auditLog:  auditLog,
		cron:      c,
	}, nil
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.withAllowlist(s.Gateway))
	mux.Handle("/bridge", s.withAllowlist(s.Tunnel))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pair", s.handlePairingQR)
	return mux
}

// withAllowlist rejects requests from addresses outside the configured
// IP allowlist before they reach the WebSocket upgrade.
func (s *Server) withAllowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if allowed, err := s.allowlist.Allowed(host); !allowed {
			logger.Global().Warn("connection rejected by IP allowlist", "remote_addr", host, "error", err)
			if s.auditLog != nil {
				_ = s.auditLog.LogAccessDenied("ip_not_allowlisted", "", host)
			}
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","connected_devices":%d,"bridge_connected":%t}`,
		s.Gateway.ConnectionCount(), s.Tunnel.IsConnected())
}

// handlePairingQR creates a new one-shot pairing session and returns its
// QR code as a PNG image, for the operator to display and scan.
func (s *Server) handlePairingQR(w http.ResponseWriter, r *http.Request) {
	_, png, err := s.Pairing.CreateSession()
	if err != nil {
		http.Error(w, "failed to create pairing session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// Run starts the relay's listeners and background sweepers, blocking
// until ctx is canceled or a listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s.rateLimit != nil {
		if _, err := s.cron.AddFunc(sweepInterval, s.rateLimit.Sweep); err != nil {
			return fmt.Errorf("relayserver: schedule rate-limit sweeper: %w", err)
		}
	}
	if _, err := s.cron.AddFunc(sweepInterval, s.Pairing.SweepExpired); err != nil {
		return fmt.Errorf("relayserver: schedule pairing sweeper: %w", err)
	}
	if s.cfg.Relay.MetricsEnabled {
		if _, err := s.cron.AddFunc("@every 10s", s.updateGauges); err != nil {
			return fmt.Errorf("relayserver: schedule metrics updater: %w", err)
		}
	}
	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	group, groupCtx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%d", s.cfg.Channels.Mobile.WebSocketPort)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux()}

	group.Go(func() error {
		if s.cfg.Channels.Mobile.TLSEnabled {
			material, err := tlscert.LoadOrGenerate(tlscert.Config{
				CertPath: s.cfg.Channels.Mobile.TLSCertPath,
				KeyPath:  s.cfg.Channels.Mobile.TLSKeyPath,
				Hostname: s.cfg.Relay.PublicURL,
			})
			if err != nil {
				return fmt.Errorf("relayserver: provision TLS: %w", err)
			}
			tlsCfg, err := tlscert.ServerTLSConfig(material)
			if err != nil {
				return fmt.Errorf("relayserver: build TLS config: %w", err)
			}
			s.httpServer.TLSConfig = tlsCfg

			logger.Global().Info("relay listening", "addr", addr, "tls", true)
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("relayserver: listen: %w", err)
			}
			tlsLn := tls.NewListener(ln, tlsCfg)
			return serveUntilShutdown(s.httpServer, tlsLn)
		}

		logger.Global().Info("relay listening", "addr", addr, "tls", false)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("relayserver: listen: %w", err)
		}
		return serveUntilShutdown(s.httpServer, ln)
	})

	if s.cfg.Relay.MetricsEnabled {
		metricsAddr := fmt.Sprintf(":%d", s.cfg.Relay.MetricsPort)
		s.metricsServer = &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
		group.Go(func() error {
			logger.Global().Info("metrics listening", "addr", metricsAddr)
			ln, err := net.Listen("tcp", metricsAddr)
			if err != nil {
				return fmt.Errorf("relayserver: listen metrics: %w", err)
			}
			return serveUntilShutdown(s.metricsServer, ln)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown()
	})

	return group.Wait()
}

func (s *Server) updateGauges() {
	metrics.ConnectedDevices.Set(float64(s.Gateway.ConnectionCount()))
	metrics.PairingSessions.Set(float64(s.Pairing.Count()))
	if s.Tunnel.IsConnected() {
		metrics.BridgeConnected.Set(1)
	} else {
		metrics.BridgeConnected.Set(0)
	}
}

func serveUntilShutdown(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Global().Info("shutting down relay")

	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(shutdownCtx)
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}
