// Package qr renders QR codes for the mobile pairing handshake: a PNG for
// in-app camera scanning and an ASCII rendering for headless/SSH setups.
package qr

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// PNG renders payload as a PNG-encoded QR code at the given box size with
// error-correction level L, matching the pairing QR format.
func PNG(payload []byte, boxSize int) ([]byte, error) {
	if boxSize <= 0 {
		boxSize = 10
	}
	// A negative size tells go-qrcode to use |size| pixels per module; the
	// library adds its standard 4-module quiet zone around the symbol.
	img, err := qrcode.Encode(string(payload), qrcode.Low, -boxSize)
	if err != nil {
		return nil, fmt.Errorf("qr: encode PNG: %w", err)
	}
	return img, nil
}

// ASCII renders payload as a terminal-friendly grid of filled/empty cells,
// for operators pairing a device from a headless SSH session.
func ASCII(payload []byte) (string, error) {
	q, err := qrcode.New(string(payload), qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("qr: build matrix: %w", err)
	}
	q.DisableBorder = true

	const border = 2
	bitmap := q.Bitmap()
	size := len(bitmap)

	var b strings.Builder
	for y := -border; y < size+border; y++ {
		for x := -border; x < size+border; x++ {
			filled := false
			if y >= 0 && y < size && x >= 0 && x < size {
				filled = bitmap[y][x]
			}
			if filled {
				b.WriteString("██")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
