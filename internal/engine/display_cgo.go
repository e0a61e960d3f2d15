//go:build cgo
// +build cgo

package engine

import (
	"context"
	"image"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// screenSource is a mediadevices video source polling the primary display.
type screenSource struct {
	ctx    context.Context
	bounds image.Rectangle
	fps    int
	logger *zap.Logger
}

func newScreenSource(ctx context.Context, fps int, logger *zap.Logger) (*screenSource, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, ErrNoDisplayFound
	}
	if fps <= 0 {
		fps = 15
	}
	bounds := screenshot.GetDisplayBounds(0)
	logger.Info("screenshot capture", zap.Int("width", bounds.Dx()), zap.Int("height", bounds.Dy()), zap.Int("fps", fps))
	return &screenSource{ctx: ctx, bounds: bounds, fps: fps, logger: logger}, nil
}

func (s *screenSource) Read() (image.Image, func(), error) {
	select {
	case <-s.ctx.Done():
		return nil, nil, s.ctx.Err()
	case <-time.After(time.Second / time.Duration(s.fps)):
	}
	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		s.logger.Warn("capture display", zap.Error(err))
		return nil, nil, err
	}
	return img, func() {}, nil
}

func (s *screenSource) Close() error { return nil }

func (s *screenSource) ID() string { return "screen-capture" }

func (s *screenSource) Properties() []prop.Media {
	return []prop.Media{{
		Video: prop.Video{
			Width:       s.bounds.Dx(),
			Height:      s.bounds.Dy(),
			FrameFormat: frame.FormatRGBA,
			FrameRate:   float32(s.fps),
		},
	}}
}
