package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/media"
)

// frameReader is satisfied by the readers of mediadevices video tracks.
type frameReader interface {
	Read() (img image.Image, release func(), err error)
}

type renderLoop struct {
	done chan struct{}
	once sync.Once
}

// startRender pushes every frame from r into target until stopped or the track ends.
func startRender(r frameReader, target media.RenderTarget, logger *zap.Logger) *renderLoop {
	loop := &renderLoop{done: make(chan struct{})}
	go func() {
		for {
			img, release, err := r.Read()
			if err != nil {
				logger.Debug("local video render ended", zap.Error(err))
				return
			}
			select {
			case <-loop.done:
				if release != nil {
					release()
				}
				return
			default:
			}
			target.RenderFrame(img)
			if release != nil {
				release()
			}
		}
	}()
	return loop
}

func (l *renderLoop) stop() {
	if l == nil {
		return
	}
	l.once.Do(func() { close(l.done) })
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// captureJPEG reads one frame and encodes it.
func captureJPEG(ctx context.Context, r frameReader, quality int) ([]byte, error) {
	type result struct {
		img image.Image
		err error
	}
	ch := make(chan result, 1)
	go func() {
		img, release, err := r.Read()
		if release != nil {
			defer release()
		}
		ch <- result{img: img, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("read frame: %w", res.err)
		}
		return encodeJPEG(res.img, quality)
	}
}

// FrameFile is a render target that keeps the latest local frame as a JPEG file on disk.
type FrameFile struct {
	Path     string
	Interval time.Duration
	Quality  int

	mu      sync.Mutex
	last    time.Time
	written int
}

// NewFrameFile writes at most one frame per interval to path.
func NewFrameFile(path string, interval time.Duration) *FrameFile {
	return &FrameFile{Path: path, Interval: interval, Quality: 75}
}

func (f *FrameFile) RenderFrame(img image.Image) {
	f.mu.Lock()
	now := time.Now()
	if !f.last.IsZero() && now.Sub(f.last) < f.Interval {
		f.mu.Unlock()
		return
	}
	f.last = now
	f.mu.Unlock()

	b, err := encodeJPEG(img, f.Quality)
	if err != nil {
		return
	}
	// write then rename so readers never see a partial frame
	tmp := filepath.Join(filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	if os.Rename(tmp, f.Path) == nil {
		f.mu.Lock()
		f.written++
		f.mu.Unlock()
	}
}

// Written returns how many frames reached disk.
func (f *FrameFile) Written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}
