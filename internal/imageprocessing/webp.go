// Package imageprocessing validates and inspects webp images bound for
// device displays.
package imageprocessing

import (
	"bytes"
	"fmt"

	"golang.org/x/image/webp"
)

// Native Tronbyt panel size. Doubled images are served to 2x displays.
const (
	NativeWidth  = 64
	NativeHeight = 32
)

// DecodeBounds decodes a webp header and returns its pixel dimensions
func DecodeBounds(data []byte) (int, int, error) {
	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid webp: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Is2x reports whether an image is sized for a doubled-resolution display
func Is2x(width, height int) bool {
	return width >= NativeWidth*2 && height >= NativeHeight*2
}
