// Package qr generates QR code images for module items and packages them
// into a downloadable ZIP archive. Each image encodes exactly one item's
// label; the scan endpoint is the decoder-side counterpart of that payload.
package qr

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/T-SHELLY/aeroAR/internal/store"
)

// DefaultImageSize is the rendered PNG side length in pixels
const DefaultImageSize = 512

// Image renders a single QR PNG encoding payload
func Image(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("QR payload cannot be empty")
	}
	if size <= 0 {
		size = DefaultImageSize
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR payload %q: %w", payload, err)
	}

	return png, nil
}

// ModuleArchive builds a ZIP containing one QR PNG per manifest entry.
// Each PNG is named after the item's stored audio file and encodes the
// item's label as its payload.
func ModuleArchive(entries []store.ManifestEntry, size int) ([]byte, error) {
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	for _, entry := range entries {
		png, err := Image(entry.Name, size)
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(entry.File, store.AudioExt) + ".png"
		w, err := archive.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
		if _, err := w.Write(png); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", name, err)
		}
	}

	if err := archive.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	return buf.Bytes(), nil
}
