package pkg

import (
	"context"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/converters/proj4_crs_converter"
	"github.com/ecopia-map/cloud_stream/internal/data"
	"github.com/ecopia-map/cloud_stream/internal/events"
	"github.com/ecopia-map/cloud_stream/internal/fetch"
	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	streamio "github.com/ecopia-map/cloud_stream/internal/io"
	"github.com/ecopia-map/cloud_stream/internal/octree"
	"github.com/ecopia-map/cloud_stream/internal/streamer"
	"github.com/ecopia-map/cloud_stream/pkg/format_manager"
)

var ErrNotInitialized = errors.New("streamer not initialized, call Initialize first")

// Streamer is the outward facade of the streaming core: initialize a
// dataset, select nodes for a viewport, queue and drain loads, pull trimmed
// snapshots and subscribe to progress events.
type Streamer struct {
	opts          *streamer.StreamerOptions
	fetcher       fetch.Fetcher
	formatManager format_manager.FormatManager
	clk           clock.Clock

	mu          sync.Mutex
	store       hierarchy.Store
	cache       *octree.NodeCache
	buffers     *data.BufferStore
	conv        converters.CoordinateConverter
	hub         *events.Hub
	selector    *streamio.ViewportSelector
	scheduler   *streamio.LoadScheduler
	info        *hierarchy.Info
	initialized bool
}

func NewStreamer(opts *streamer.StreamerOptions, fetcher fetch.Fetcher, formatManager format_manager.FormatManager) *Streamer {
	return NewStreamerWithClock(opts, fetcher, formatManager, clock.New())
}

func NewStreamerWithClock(opts *streamer.StreamerOptions, fetcher fetch.Fetcher, formatManager format_manager.FormatManager, clk clock.Clock) *Streamer {
	return &Streamer{
		opts:          opts,
		fetcher:       fetcher,
		formatManager: formatManager,
		clk:           clk,
		hub:           events.NewHub(),
	}
}

// NewFetcherForLocator returns the byte range fetcher matching the locator
// scheme
func NewFetcherForLocator(locator string) (fetch.Fetcher, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return fetch.NewHttpFetcher(locator, nil)
	}
	return fetch.NewFileFetcher(locator), nil
}

// Initialize resolves the dataset metadata, builds the coordinate converter
// and sizes the point buffers to the budget. Fatal on unreachable or
// malformed sources; origin rejections carry remediation text from the
// fetcher. Idempotent once successful.
func (s *Streamer) Initialize(ctx context.Context) (*hierarchy.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return s.info, nil
	}

	store, err := s.formatManager.GetHierarchyStore(ctx, s.opts.Input, s.fetcher)
	if err != nil {
		return nil, err
	}

	info, err := store.Initialize(ctx)
	if err != nil {
		store.Close()
		return nil, errors.Wrapf(err, "initializing dataset [%s]", s.opts.Input)
	}

	conv := proj4_crs_converter.NewProj4CrsConverter(info.CrsDescription, info.EpsgCode)
	store.SetConverter(conv)

	origin := computeOrigin(info, conv)
	cache := octree.NewNodeCache()
	buffers := data.NewBufferStore(s.opts.PointBudget, origin)

	s.store = store
	s.conv = conv
	s.cache = cache
	s.buffers = buffers
	s.selector = streamio.NewViewportSelector(store, cache, s.opts, s.clk)
	s.scheduler = streamio.NewLoadScheduler(store, cache, buffers, conv, s.hub, s.opts, s.clk)
	s.info = info
	s.initialized = true
	return info, nil
}

// computeOrigin reprojects the center of the dataset bounds; positions are
// stored relative to it so float32 components keep their precision
func computeOrigin(info *hierarchy.Info, conv converters.CoordinateConverter) geometry.Coordinate {
	center := info.SourceBounds
	lon, lat, err := conv.Forward(center.Xmid, center.Ymid)
	if err != nil {
		lon, lat = center.Xmid, center.Ymid
	}
	return geometry.Coordinate{X: lon, Y: lat, Z: center.Zmid * conv.VerticalScale()}
}

// SelectNodesForViewport returns the candidate nodes for the viewport in
// loading order. Fails before Initialize.
func (s *Streamer) SelectNodesForViewport(ctx context.Context, viewport *geometry.Viewport) ([]*octree.Node, error) {
	s.mu.Lock()
	selector := s.selector
	s.mu.Unlock()
	if selector == nil {
		return nil, ErrNotInitialized
	}
	return selector.Select(ctx, viewport)
}

// QueueNode adds a candidate to the load queue. No-op for already queued or
// non pending nodes.
func (s *Streamer) QueueNode(node *octree.Node) bool {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler == nil {
		return false
	}
	return scheduler.Enqueue(node)
}

// DrainQueue starts loading queued nodes under the concurrency limit and
// point budget
func (s *Streamer) DrainQueue(ctx context.Context) {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler != nil {
		scheduler.Drain(ctx)
	}
}

// WaitForLoads blocks until every in flight load has settled
func (s *Streamer) WaitForLoads() {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler != nil {
		scheduler.Wait()
	}
}

// LoadedSnapshot returns buffer views trimmed to the loaded point count.
// Safe to call at any time, including mid load and after teardown.
func (s *Streamer) LoadedSnapshot() *data.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffers == nil || s.scheduler == nil {
		return &data.Snapshot{Extras: map[string]*data.ExtraColumn{}}
	}
	snapshot := s.buffers.Snapshot(s.scheduler.LoadedPoints())
	if s.info != nil {
		snapshot.CrsDescription = s.info.CrsDescription
		snapshot.Bounds = s.info.SourceBounds
	}
	return snapshot
}

// OnUpdate installs the debounced consumer notification fired after bursts
// of node completions
func (s *Streamer) OnUpdate(fn func()) {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler != nil {
		scheduler.SetUpdateCallback(fn)
	}
}

func (s *Streamer) Subscribe(kind events.Kind, handler events.Handler) string {
	return s.hub.Subscribe(kind, handler)
}

func (s *Streamer) Unsubscribe(kind events.Kind, token string) {
	s.hub.Unsubscribe(kind, token)
}

// Cache exposes the node catalog for reporting and index export
func (s *Streamer) Cache() *octree.NodeCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

func (s *Streamer) Info() *hierarchy.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Streamer) LoadedPoints() int64 {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler == nil {
		return 0
	}
	return scheduler.LoadedPoints()
}

func (s *Streamer) ReservedPoints() int64 {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler == nil {
		return 0
	}
	return scheduler.ReservedPoints()
}

// Teardown releases the buffers, clears the catalog and drops every
// subscription. In flight decodes complete and discard their results.
// Idempotent.
func (s *Streamer) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		s.scheduler.Teardown()
	}
	if s.selector != nil {
		s.selector.Reset()
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	if s.buffers != nil {
		s.buffers.Release()
	}
	if s.conv != nil {
		s.conv.Cleanup()
		s.conv = nil
	}
	if s.store != nil {
		s.store.Close()
		s.store = nil
	}
	s.hub.Clear()
	s.scheduler = nil
	s.selector = nil
	s.initialized = false
}
