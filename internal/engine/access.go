package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/media"
)

// Access opens local capture devices. It implements media.MediaAccess.
type Access struct {
	cfg      Config
	selector *mediadevices.CodecSelector
	logger   *zap.Logger
}

// ProbeUserMedia opens camera and microphone together and releases them right away.
func (a *Access) ProbeUserMedia(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(a.cfg.Width)
			c.Height = prop.Int(a.cfg.Height)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: a.selector,
	})
	if err != nil {
		return fmt.Errorf("open camera and microphone: %w", err)
	}
	var errs []error
	for _, t := range stream.GetTracks() {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}

// RequestDisplayMedia captures the screen. Drivers that cannot capture a display fall back to
// polling screenshots of the primary display.
func (a *Access) RequestDisplayMedia(ctx context.Context) (media.DisplayStream, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.Float(a.cfg.FrameRate)
		},
		Codec: a.selector,
	})
	if err == nil && len(stream.GetVideoTracks()) > 0 {
		a.logger.Info("display capture started", zap.Int("tracks", len(stream.GetTracks())))
		return &DisplayStream{stream: stream}, nil
	}
	if err == nil {
		closeTracks(stream)
	}
	a.logger.Warn("display media unavailable, falling back to screenshots", zap.Error(err))

	ctx, cancel := context.WithCancel(context.Background())
	src, err := newScreenSource(ctx, int(a.cfg.FrameRate), a.logger)
	if err != nil {
		cancel()
		return nil, err
	}
	track := mediadevices.NewVideoTrack(src, a.selector)
	fallback, err := mediadevices.NewMediaStream(track)
	if err != nil {
		cancel()
		_ = track.Close()
		return nil, fmt.Errorf("create display stream: %w", err)
	}
	return &DisplayStream{stream: fallback, cancel: cancel}, nil
}

// DisplayStream is a display capture produced by Access.
type DisplayStream struct {
	stream mediadevices.MediaStream
	cancel context.CancelFunc
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func (d *DisplayStream) videoTrack() (mediadevices.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, media.ErrSessionStopped
	}
	tracks := d.stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, ErrNoVideoTrack
	}
	return tracks[0], nil
}

// Close stops the capture. Safe to call more than once.
func (d *DisplayStream) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		if d.cancel != nil {
			d.cancel()
		}
		err = closeTracks(d.stream)
	})
	return err
}

func closeTracks(stream mediadevices.MediaStream) error {
	var errs []error
	for _, t := range stream.GetTracks() {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
