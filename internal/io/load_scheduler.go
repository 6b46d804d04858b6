package io

import (
	"container/heap"
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"
	"github.com/golang/glog"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/data"
	"github.com/ecopia-map/cloud_stream/internal/decoder"
	"github.com/ecopia-map/cloud_stream/internal/events"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/octree"
	"github.com/ecopia-map/cloud_stream/internal/streamer"
)

// LoadScheduler drives queued nodes to loaded or failed under two admission
// controls: the concurrency limit on decodes in flight and the global point
// budget. The buffer range of a node is reserved synchronously under the
// scheduler lock before its decode starts, so concurrent decodes always own
// disjoint ranges; decode results are committed back under the same lock.
// Node lifecycle fields are additionally written through the cache's
// transition lock, so selection passes can run while loads are in flight.
type LoadScheduler struct {
	store   hierarchy.Store
	cache   *octree.NodeCache
	buffers *data.BufferStore
	conv    converters.CoordinateConverter
	hub     *events.Hub
	opts    *streamer.StreamerOptions
	clk     clock.Clock

	mu             sync.Mutex
	queue          nodeQueue
	queued         map[string]bool
	active         int
	reserved       int64
	loaded         int64
	totalPoints    int64
	budgetNotified bool
	alive          bool

	// color depth is detected from the first batch unless forced by options
	colorShiftResolved bool
	colorShift         uint

	debounced func(func())
	onUpdate  func()

	wg sync.WaitGroup
}

func NewLoadScheduler(
	store hierarchy.Store,
	cache *octree.NodeCache,
	buffers *data.BufferStore,
	conv converters.CoordinateConverter,
	hub *events.Hub,
	opts *streamer.StreamerOptions,
	clk clock.Clock,
) *LoadScheduler {
	s := &LoadScheduler{
		store:     store,
		cache:     cache,
		buffers:   buffers,
		conv:      conv,
		hub:       hub,
		opts:      opts,
		clk:       clk,
		queued:    make(map[string]bool),
		alive:     true,
		debounced: debounce.New(opts.DebounceWindow),
	}
	if info := store.Info(); info != nil {
		s.totalPoints = info.TotalPoints
	}
	if opts.EightBitColors {
		s.colorShiftResolved = true
		s.colorShift = 0
	}
	return s
}

// SetUpdateCallback installs the coalesced consumer notification. Bursts of
// node completions inside the debounce window produce a single call.
func (s *LoadScheduler) SetUpdateCallback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Enqueue adds a pending node to the queue. Queuing an already queued or non
// pending node is a no-op; returns whether the node was accepted.
func (s *LoadScheduler) Enqueue(node *octree.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive || node == nil || node.State != octree.NodePending {
		return false
	}
	key := node.Key.String()
	if s.queued[key] {
		return false
	}
	s.queued[key] = true
	var priority float64
	s.cache.View(node, func(n *octree.Node) { priority = n.Priority })
	heap.Push(&s.queue, queueItem{node: node, priority: priority})
	return true
}

// Drain starts decodes until the queue is empty, the concurrency limit is
// met, or the next node would push the reservation over the point budget.
// Budget exhaustion is a normal stopping condition reported as an event, not
// an error.
func (s *LoadScheduler) Drain(ctx context.Context) {
	s.mu.Lock()
	pending := s.drainLocked(ctx)
	s.mu.Unlock()
	s.publish(pending)
}

// drainLocked pops and dispatches nodes while admission allows. Events are
// returned to be published outside the lock: handlers run synchronously and
// may call back into the scheduler.
func (s *LoadScheduler) drainLocked(ctx context.Context) []events.Event {
	var pending []events.Event
	for s.alive && s.queue.Len() > 0 && s.active < s.opts.Concurrency {
		next := s.queue[0].node
		if s.reserved+next.PointCount > s.opts.PointBudget {
			if !s.budgetNotified {
				s.budgetNotified = true
				pending = append(pending, events.Event{
					Kind:           events.EventBudgetReached,
					LoadedPoints:   s.loaded,
					ReservedPoints: s.reserved,
					TotalPoints:    s.totalPoints,
				})
			}
			break
		}

		node := heap.Pop(&s.queue).(queueItem).node
		delete(s.queued, node.Key.String())
		if node.State != octree.NodePending {
			continue
		}

		// reservation before decode: the range [BufferStart, +PointCount) is
		// owned by this attempt until it commits or rolls back
		start := s.reserved
		s.cache.Transition(node, func(n *octree.Node) {
			n.BufferStart = start
			n.State = octree.NodeLoading
		})
		s.reserved += node.PointCount
		s.active++

		s.wg.Add(1)
		go s.load(ctx, node)
	}
	return pending
}

func (s *LoadScheduler) load(ctx context.Context, node *octree.Node) {
	defer s.wg.Done()

	batch, err := s.store.LoadNodeBatch(ctx, node)
	pending := s.commit(ctx, node, batch, err)
	s.publish(pending)
}

func (s *LoadScheduler) commit(ctx context.Context, node *octree.Node, batch *decoder.PointBatch, err error) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	// liveness guard: a decode finishing after teardown must not touch the
	// buffers or counters
	if !s.alive {
		return nil
	}
	if cached, ok := s.cache.Get(node.Key); !ok || cached != node {
		s.active--
		return nil
	}

	if err == nil {
		err = s.writeBatchLocked(node, batch)
	}

	var pending []events.Event
	if err == nil {
		s.loaded += node.PointCount
		s.cache.Transition(node, func(n *octree.Node) {
			n.State = octree.NodeLoaded
			n.Err = nil
		})
		pending = append(pending,
			events.Event{Kind: events.EventNodeLoaded, NodeKey: node.Key.String(), PointCount: node.PointCount},
			events.Event{
				Kind:           events.EventProgress,
				LoadedPoints:   s.loaded,
				ReservedPoints: s.reserved,
				TotalPoints:    s.totalPoints,
			},
		)
		if s.onUpdate != nil {
			s.debounced(s.fireUpdate)
		}
	} else {
		// roll back the reservation in full; the counter is non monotonic on
		// failure by design
		s.reserved -= node.PointCount
		s.budgetNotified = false

		now := s.clk.Now()
		terminal := false
		s.cache.Transition(node, func(n *octree.Node) {
			n.BufferStart = -1
			n.RetryCount++
			n.LastFailedAt = now
			if n.RetryCount >= s.opts.RetryLimit {
				n.State = octree.NodeFailed
				n.Err = err
				terminal = true
			} else {
				n.State = octree.NodePending
			}
		})
		if terminal {
			glog.Warningf("node [%s] failed %d times, dropping it: %v", node.Key, node.RetryCount, err)
			pending = append(pending, events.Event{Kind: events.EventError, NodeKey: node.Key.String(), Err: err})
		} else {
			glog.Warningf("node [%s] failed attempt %d/%d, will retry: %v", node.Key, node.RetryCount, s.opts.RetryLimit, err)
		}
	}

	s.active--
	pending = append(pending, s.drainLocked(ctx)...)
	return pending
}

// writeBatchLocked packs the decoded columns into the reserved buffer range.
// Called under the scheduler lock, so the first batch can fix the session
// schema without racing other commits.
func (s *LoadScheduler) writeBatchLocked(node *octree.Node, batch *decoder.PointBatch) error {
	if !s.buffers.SchemaResolved() {
		s.buffers.ResolveSchema(batch.HasColor, batch.HasIntensity, batch.HasClassification, batch.ExtraNames)
	}
	if batch.HasColor && !s.colorShiftResolved {
		s.colorShift = detectColorShift(batch)
		s.colorShiftResolved = true
	}

	count := batch.NumPoints
	if int64(count) > node.PointCount {
		count = int(node.PointCount)
	}
	verticalScale := s.conv.VerticalScale()

	for i := 0; i < count; i++ {
		lon, lat, err := s.conv.Forward(batch.X[i], batch.Y[i])
		if err != nil {
			return err
		}
		idx := node.BufferStart + int64(i)
		if err := s.buffers.SetPosition(idx, lon, lat, batch.Z[i]*verticalScale); err != nil {
			return err
		}
		if batch.HasIntensity {
			// 16 bit source domain normalized to 0..1
			s.buffers.SetIntensity(idx, float32(batch.Intensity[i])/65535.0)
		}
		if batch.HasClassification {
			s.buffers.SetClassification(idx, batch.Classification[i])
		}
		if batch.HasColor {
			s.buffers.SetColor(idx,
				uint8(batch.Red[i]>>s.colorShift),
				uint8(batch.Green[i]>>s.colorShift),
				uint8(batch.Blue[i]>>s.colorShift),
				255,
			)
		}
		for _, name := range batch.ExtraNames {
			s.buffers.SetExtra(name, idx, batch.Extras[name][i])
		}
	}
	return nil
}

// detectColorShift reports 8 when any component uses the 16 bit domain, else
// the batch is assumed to carry 8 bit colors already
func detectColorShift(batch *decoder.PointBatch) uint {
	for i := 0; i < batch.NumPoints; i++ {
		if batch.Red[i] > 255 || batch.Green[i] > 255 || batch.Blue[i] > 255 {
			return 8
		}
	}
	return 0
}

func (s *LoadScheduler) fireUpdate() {
	s.mu.Lock()
	fn := s.onUpdate
	alive := s.alive
	s.mu.Unlock()
	if alive && fn != nil {
		fn()
	}
}

func (s *LoadScheduler) publish(pending []events.Event) {
	for _, event := range pending {
		s.hub.Publish(event)
	}
}

// Wait blocks until every in flight decode and the loads they trigger have
// settled
func (s *LoadScheduler) Wait() {
	s.wg.Wait()
}

func (s *LoadScheduler) ReservedPoints() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved
}

func (s *LoadScheduler) LoadedPoints() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *LoadScheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *LoadScheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Teardown stops admission and clears the queue. In flight decodes complete
// and are discarded by the liveness guard. Idempotent.
func (s *LoadScheduler) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
	s.queue = nil
	s.queued = make(map[string]bool)
	s.onUpdate = nil
}
