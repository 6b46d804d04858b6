package io

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/data"
	"github.com/ecopia-map/cloud_stream/internal/decoder"
	"github.com/ecopia-map/cloud_stream/internal/events"
	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/octree"
	"github.com/ecopia-map/cloud_stream/internal/streamer"
)

type schedulerFixture struct {
	store   *fakeStore
	cache   *octree.NodeCache
	buffers *data.BufferStore
	hub     *events.Hub
	opts    *streamer.StreamerOptions
	clk     *clock.Mock
	sched   *LoadScheduler
}

func newSchedulerFixture(t *testing.T, budget int64) *schedulerFixture {
	f := &schedulerFixture{
		store:   newFakeStore(10000),
		cache:   octree.NewNodeCache(),
		buffers: data.NewBufferStore(budget, geometry.Coordinate{}),
		hub:     events.NewHub(),
		opts:    streamer.NewDefaultStreamerOptions(),
		clk:     clock.NewMock(),
	}
	f.opts.PointBudget = budget
	f.opts.DebounceWindow = time.Millisecond
	f.sched = NewLoadScheduler(f.store, f.cache, f.buffers,
		converters.NewPassthroughConverter(""), f.hub, f.opts, f.clk)
	return f
}

func (f *schedulerFixture) addNode(key octree.NodeKey, count int64) *octree.Node {
	node := octree.NewNode(key, count)
	f.cache.Put(node)
	return node
}

func TestDrainLoadsQueuedNodes(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	a := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 10)
	a.Priority = 1
	b := f.addNode(octree.NewNodeKey(1, 1, 0, 0), 20)
	b.Priority = 2

	require.True(t, f.sched.Enqueue(a))
	require.True(t, f.sched.Enqueue(b))
	f.sched.Drain(context.Background())
	f.sched.Wait()

	require.Equal(t, octree.NodeLoaded, a.State)
	require.Equal(t, octree.NodeLoaded, b.State)
	require.Equal(t, int64(30), f.sched.ReservedPoints())
	require.Equal(t, int64(30), f.sched.LoadedPoints())
	require.Equal(t, 0, f.sched.ActiveCount())
	require.Equal(t, 0, f.sched.QueueLength())

	// ranges are reserved in priority order and are disjoint
	require.Equal(t, int64(0), a.BufferStart)
	require.Equal(t, int64(10), b.BufferStart)

	snap := f.buffers.Snapshot(f.sched.LoadedPoints())
	// first point of node a carries X = depth*1000
	require.InDelta(t, 1000.0, float64(snap.Positions[a.BufferStart*3]), 1e-3)
}

func TestEnqueueDeduplicatesAndChecksState(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	node := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 10)

	require.True(t, f.sched.Enqueue(node))
	require.False(t, f.sched.Enqueue(node))
	require.False(t, f.sched.Enqueue(nil))

	loaded := octree.NewNode(octree.NewNodeKey(2, 0, 0, 0), 5)
	loaded.State = octree.NodeLoaded
	require.False(t, f.sched.Enqueue(loaded))
}

func TestBudgetStopsAdmission(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	a := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 60)
	a.Priority = 1
	b := f.addNode(octree.NewNodeKey(1, 1, 0, 0), 60)
	b.Priority = 2

	var budgetEvents []events.Event
	f.hub.Subscribe(events.EventBudgetReached, func(event events.Event) {
		budgetEvents = append(budgetEvents, event)
	})

	f.sched.Enqueue(a)
	f.sched.Enqueue(b)
	f.sched.Drain(context.Background())
	f.sched.Wait()

	require.Equal(t, octree.NodeLoaded, a.State)
	require.Equal(t, octree.NodePending, b.State)
	require.Equal(t, 1, f.sched.QueueLength())
	require.Equal(t, int64(60), f.sched.ReservedPoints())

	// the budget event fires once, not once per drain pass
	f.sched.Drain(context.Background())
	f.sched.Wait()
	require.Len(t, budgetEvents, 1)
	require.Equal(t, int64(60), budgetEvents[0].ReservedPoints)
}

func TestFailureRollsBackReservation(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	good := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 10)
	bad := f.addNode(octree.NewNodeKey(1, 1, 0, 0), 20)
	f.store.failures[bad.Key.String()] = 1

	f.sched.Enqueue(good)
	f.sched.Enqueue(bad)
	f.sched.Drain(context.Background())
	f.sched.Wait()

	require.Equal(t, octree.NodeLoaded, good.State)
	require.Equal(t, octree.NodePending, bad.State)
	require.Equal(t, 1, bad.RetryCount)
	require.Equal(t, int64(-1), bad.BufferStart)
	require.Equal(t, f.clk.Now(), bad.LastFailedAt)

	// the rollback leaves the counters consistent with what actually loaded
	require.Equal(t, int64(10), f.sched.LoadedPoints())
	require.Equal(t, int64(10), f.sched.ReservedPoints())

	// the node loads cleanly on the next attempt
	f.sched.Enqueue(bad)
	f.sched.Drain(context.Background())
	f.sched.Wait()
	require.Equal(t, octree.NodeLoaded, bad.State)
	require.Equal(t, int64(30), f.sched.LoadedPoints())
}

func TestRetryLimitMarksNodeFailed(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	bad := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 10)
	f.store.failures[bad.Key.String()] = 10

	var errorEvents []events.Event
	f.hub.Subscribe(events.EventError, func(event events.Event) {
		errorEvents = append(errorEvents, event)
	})

	for attempt := 0; attempt < f.opts.RetryLimit; attempt++ {
		f.sched.Enqueue(bad)
		f.sched.Drain(context.Background())
		f.sched.Wait()
	}

	require.Equal(t, octree.NodeFailed, bad.State)
	require.Equal(t, f.opts.RetryLimit, bad.RetryCount)
	require.Error(t, bad.Err)
	require.Len(t, errorEvents, 1)
	require.Equal(t, bad.Key.String(), errorEvents[0].NodeKey)

	// terminal nodes are not accepted back
	require.False(t, f.sched.Enqueue(bad))
	require.Equal(t, int64(0), f.sched.ReservedPoints())
}

func TestConcurrencyLimitChains(t *testing.T) {
	f := newSchedulerFixture(t, 1000)
	f.opts.Concurrency = 1

	for i := int32(0); i < 5; i++ {
		f.sched.Enqueue(f.addNode(octree.NewNodeKey(2, i, 0, 0), 10))
	}
	f.sched.Drain(context.Background())
	f.sched.Wait()

	// completions re-drain, so one pass settles the whole queue
	require.Equal(t, int64(50), f.sched.LoadedPoints())
	require.Equal(t, 0, f.sched.QueueLength())
	require.Equal(t, 5, f.store.loadCount())
}

func TestNodeLoadedAndProgressEvents(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	node := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 10)

	var loadedEvents, progressEvents []events.Event
	f.hub.Subscribe(events.EventNodeLoaded, func(event events.Event) {
		loadedEvents = append(loadedEvents, event)
	})
	f.hub.Subscribe(events.EventProgress, func(event events.Event) {
		progressEvents = append(progressEvents, event)
	})

	f.sched.Enqueue(node)
	f.sched.Drain(context.Background())
	f.sched.Wait()

	require.Len(t, loadedEvents, 1)
	require.Equal(t, "1-0-0-0", loadedEvents[0].NodeKey)
	require.Equal(t, int64(10), loadedEvents[0].PointCount)
	require.Len(t, progressEvents, 1)
	require.Equal(t, int64(10), progressEvents[0].LoadedPoints)
	require.Equal(t, int64(10000), progressEvents[0].TotalPoints)
}

func TestUpdateCallbackIsCoalesced(t *testing.T) {
	f := newSchedulerFixture(t, 1000)

	var mu sync.Mutex
	updates := 0
	f.sched.SetUpdateCallback(func() {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	for i := int32(0); i < 4; i++ {
		f.sched.Enqueue(f.addNode(octree.NewNodeKey(2, i, 0, 0), 10))
	}
	f.sched.Drain(context.Background())
	f.sched.Wait()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, updates, 1)
	require.LessOrEqual(t, updates, 4)
}

func TestSixteenBitColorsAreShifted(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	node := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 1)
	f.store.batchFn = func(node *octree.Node) *decoder.PointBatch {
		batch := decoder.NewPointBatch(1)
		batch.HasColor = true
		batch.Red = []uint16{65280}
		batch.Green = []uint16{32768}
		batch.Blue = []uint16{255}
		return batch
	}

	f.sched.Enqueue(node)
	f.sched.Drain(context.Background())
	f.sched.Wait()

	snap := f.buffers.Snapshot(1)
	require.Equal(t, uint8(255), snap.Colors[0])
	require.Equal(t, uint8(128), snap.Colors[1])
	require.Equal(t, uint8(0), snap.Colors[2])
	require.Equal(t, uint8(255), snap.Colors[3])
}

func TestEightBitColorsOptionSkipsDetection(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	f.opts.EightBitColors = true
	f.sched = NewLoadScheduler(f.store, f.cache, f.buffers,
		converters.NewPassthroughConverter(""), f.hub, f.opts, f.clk)

	node := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 1)
	f.store.batchFn = func(node *octree.Node) *decoder.PointBatch {
		batch := decoder.NewPointBatch(1)
		batch.HasColor = true
		batch.Red = []uint16{200}
		batch.Green = []uint16{100}
		batch.Blue = []uint16{50}
		return batch
	}

	f.sched.Enqueue(node)
	f.sched.Drain(context.Background())
	f.sched.Wait()

	snap := f.buffers.Snapshot(1)
	require.Equal(t, uint8(200), snap.Colors[0])
}

func TestIntensityIsNormalized(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	node := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 1)
	f.store.batchFn = func(node *octree.Node) *decoder.PointBatch {
		batch := decoder.NewPointBatch(1)
		batch.HasIntensity = true
		batch.Intensity = []uint16{32768}
		return batch
	}

	f.sched.Enqueue(node)
	f.sched.Drain(context.Background())
	f.sched.Wait()

	snap := f.buffers.Snapshot(1)
	require.InDelta(t, 0.5, float64(snap.Intensities[0]), 1e-3)
}

func TestTeardownDiscardsLateCompletions(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	node := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 10)
	f.store.blockLoad = make(chan struct{})

	f.sched.Enqueue(node)
	f.sched.Drain(context.Background())
	require.Equal(t, int64(10), f.sched.ReservedPoints())
	require.Equal(t, 1, f.sched.ActiveCount())

	f.sched.Teardown()
	f.sched.Teardown() // idempotent
	close(f.store.blockLoad)
	f.sched.Wait()

	// the completion after teardown was dropped by the liveness guard
	require.Equal(t, int64(0), f.sched.LoadedPoints())
	require.False(t, f.sched.Enqueue(f.addNode(octree.NewNodeKey(1, 1, 0, 0), 5)))
}

func TestStaleNodeCompletionIsDiscarded(t *testing.T) {
	f := newSchedulerFixture(t, 100)
	node := f.addNode(octree.NewNodeKey(1, 0, 0, 0), 10)
	f.store.blockLoad = make(chan struct{})

	f.sched.Enqueue(node)
	f.sched.Drain(context.Background())

	// the cache no longer knows this node when the decode completes
	f.cache.Clear()
	close(f.store.blockLoad)
	f.sched.Wait()

	require.Equal(t, int64(0), f.sched.LoadedPoints())
	require.Equal(t, 0, f.sched.ActiveCount())
}

// selection passes and in flight commits share node descriptors; every
// lifecycle field access goes through the cache lock
func TestSelectionRunsConcurrentlyWithLoads(t *testing.T) {
	f := newSchedulerFixture(t, 100000)
	for i := int32(0); i < 32; i++ {
		node := octree.NewNode(octree.NewNodeKey(3, i, 0, 0), 10)
		node.WGS84Bounds = geometry.NewBoundingBox(
			float64(i)*0.1, float64(i)*0.1+0.05, 0, 0.05, 0, 10)
		f.store.rootNodes = append(f.store.rootNodes, node)
	}
	selector := NewViewportSelector(f.store, f.cache, f.opts, f.clk)
	viewport := &geometry.Viewport{West: -5, South: -5, East: 5, North: 5, TargetDepth: 4}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := selector.Select(context.Background(), viewport); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for pass := 0; pass < 20; pass++ {
		selected, err := selector.Select(context.Background(), viewport)
		require.NoError(t, err)
		for _, node := range selected {
			f.sched.Enqueue(node)
		}
		f.sched.Drain(context.Background())
		f.sched.Wait()
	}
	close(stop)
	wg.Wait()

	require.Equal(t, int64(320), f.sched.LoadedPoints())
	require.Equal(t, 0, f.sched.QueueLength())
}
