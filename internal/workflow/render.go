package workflow

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/a3tai/mcp-conform/internal/pdf"
)

// ErrRenderCancelled is returned by a render that was superseded by a newer
// render of the same key, or whose caller went away. It is not a failure.
var ErrRenderCancelled = errors.New("render cancelled")

// Scheduler serializes page renders per viewport key. Starting a render cancels
// the one in flight for the same key, and only the newest render of a key may
// write that key's surface.
type Scheduler struct {
	raster pdf.Rasterizer
	logger *slog.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*renderTask
	surfaces map[string]*image.RGBA
}

type renderTask struct {
	id     uint64
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler rendering with raster
func NewScheduler(raster pdf.Rasterizer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		raster:   raster,
		logger:   logger,
		inflight: make(map[string]*renderTask),
		surfaces: make(map[string]*image.RGBA),
	}
}

// Render cancels any render in flight for key, renders page at scale, and
// commits the bitmap as key's surface. A superseded render returns
// ErrRenderCancelled and leaves the surface untouched even if the rasterizer
// finished anyway.
func (s *Scheduler) Render(ctx context.Context, key string, page pdf.Page, scale float64) (*image.RGBA, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if prev, ok := s.inflight[key]; ok {
		prev.cancel()
	}
	s.seq++
	task := &renderTask{id: s.seq, cancel: cancel}
	s.inflight[key] = task
	s.mu.Unlock()

	img, err := s.raster.RenderToBitmap(rctx, page, scale)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.inflight[key]
	superseded := !ok || current.id != task.id
	if !superseded {
		delete(s.inflight, key)
	}
	if superseded || (err != nil && errors.Is(err, context.Canceled)) || ctx.Err() != nil {
		s.logger.Debug("render.cancelled", "key", key, "superseded", superseded)
		return nil, ErrRenderCancelled
	}
	if err != nil {
		return nil, err
	}
	s.surfaces[key] = img
	return img, nil
}

// Surface returns the last committed bitmap for key
func (s *Scheduler) Surface(key string) (*image.RGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.surfaces[key]
	return img, ok
}

// Forget drops the committed surfaces whose key starts with prefix
func (s *Scheduler) Forget(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.surfaces {
		if strings.HasPrefix(key, prefix) {
			delete(s.surfaces, key)
		}
	}
}
