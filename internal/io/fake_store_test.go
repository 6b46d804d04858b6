package io

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ecopia-map/cloud_stream/internal/converters"
	"github.com/ecopia-map/cloud_stream/internal/decoder"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/octree"
)

// fakeStore is a scriptable hierarchy store: the root load installs a fixed
// node set, failures and slow loads are injected per key.
type fakeStore struct {
	mu sync.Mutex

	info      *hierarchy.Info
	rootNodes []*octree.Node
	rootLoads int
	// remaining root load failures before the node set is installed
	rootFailures int

	expanded []octree.NodeKey
	expandFn func(cache *octree.NodeCache, key octree.NodeKey)

	// remaining load failures per key string
	failures map[string]int
	// when set, LoadNodeBatch blocks until the channel is closed
	blockLoad chan struct{}
	batchFn   func(node *octree.Node) *decoder.PointBatch

	loads []string
}

func newFakeStore(totalPoints int64) *fakeStore {
	return &fakeStore{
		info:     &hierarchy.Info{TotalPoints: totalPoints, Format: "ept"},
		failures: make(map[string]int),
	}
}

func (s *fakeStore) Initialize(ctx context.Context) (*hierarchy.Info, error) {
	return s.info, nil
}

func (s *fakeStore) SetConverter(conv converters.CoordinateConverter) {}

func (s *fakeStore) LoadRootHierarchy(ctx context.Context, cache *octree.NodeCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootLoads++
	if s.rootFailures > 0 {
		s.rootFailures--
		return errors.New("injected root hierarchy failure")
	}
	for _, node := range s.rootNodes {
		cache.Put(node)
	}
	return nil
}

func (s *fakeStore) ExpandPlaceholder(ctx context.Context, cache *octree.NodeCache, key octree.NodeKey) error {
	s.mu.Lock()
	s.expanded = append(s.expanded, key)
	fn := s.expandFn
	s.mu.Unlock()
	if fn != nil {
		fn(cache, key)
	}
	return nil
}

func (s *fakeStore) LoadNodeBatch(ctx context.Context, node *octree.Node) (*decoder.PointBatch, error) {
	s.mu.Lock()
	block := s.blockLoad
	s.loads = append(s.loads, node.Key.String())
	remaining := s.failures[node.Key.String()]
	if remaining > 0 {
		s.failures[node.Key.String()] = remaining - 1
	}
	batchFn := s.batchFn
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if remaining > 0 {
		return nil, errors.Errorf("injected failure for node [%s]", node.Key)
	}
	if batchFn != nil {
		return batchFn(node), nil
	}
	return defaultBatch(node), nil
}

// defaultBatch strides X one unit per point starting at the node depth, so
// committed positions identify their source node
func defaultBatch(node *octree.Node) *decoder.PointBatch {
	batch := decoder.NewPointBatch(int(node.PointCount))
	for i := range batch.X {
		batch.X[i] = float64(node.Key.D)*1000 + float64(i)
	}
	return batch
}

func (s *fakeStore) Info() *hierarchy.Info {
	return s.info
}

func (s *fakeStore) Close() {}

func (s *fakeStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loads)
}

func (s *fakeStore) expandedKeys() []octree.NodeKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]octree.NodeKey, len(s.expanded))
	copy(out, s.expanded)
	return out
}
