//go:build !cgo
// +build !cgo

package engine

import "github.com/pion/mediadevices"

// Encoders (libvpx, libopus) and capture drivers need cgo; without it the engine cannot publish media.
func newCodecSelector(videoBitrate, audioBitrate int) (*mediadevices.CodecSelector, error) {
	return nil, ErrCodecsUnavailable
}
