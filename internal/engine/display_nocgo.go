//go:build !cgo
// +build !cgo

package engine

import (
	"context"
	"image"

	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

type screenSource struct{}

func newScreenSource(ctx context.Context, fps int, logger *zap.Logger) (*screenSource, error) {
	return nil, ErrNoDisplayFound
}

func (s *screenSource) Read() (image.Image, func(), error) { return nil, nil, ErrNoDisplayFound }

func (s *screenSource) Close() error { return nil }

func (s *screenSource) ID() string { return "screen-capture" }

func (s *screenSource) Properties() []prop.Media { return nil }
