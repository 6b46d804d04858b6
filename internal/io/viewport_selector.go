package io

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/octree"
	"github.com/ecopia-map/cloud_stream/internal/streamer"
)

// ViewportSelector produces the ordered list of nodes worth loading for a
// viewport snapshot. It owns no node state: it reads the cache, asks the
// hierarchy store to expand intersecting placeholders, and ranks candidates
// center first with a small depth tie-break. Lifecycle fields are read under
// the cache lock and priorities written back through it, so a selection pass
// is safe against commits of in flight loads.
type ViewportSelector struct {
	store hierarchy.Store
	cache *octree.NodeCache
	opts  *streamer.StreamerOptions
	clk   clock.Clock

	mu         sync.Mutex
	rootLoaded bool
}

func NewViewportSelector(store hierarchy.Store, cache *octree.NodeCache, opts *streamer.StreamerOptions, clk clock.Clock) *ViewportSelector {
	return &ViewportSelector{
		store: store,
		cache: cache,
		opts:  opts,
		clk:   clk,
	}
}

// Select returns the candidate nodes for the viewport sorted ascending by
// priority (lower loads first). Nodes up to one level above the target depth
// are included so sparse regions without a node at the exact depth still get
// coverage from a shallower one.
func (s *ViewportSelector) Select(ctx context.Context, viewport *geometry.Viewport) ([]*octree.Node, error) {
	if err := s.ensureRootHierarchy(ctx); err != nil {
		return nil, err
	}
	if err := s.expandPlaceholders(ctx, viewport); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	maxDepth := int32(viewport.TargetDepth + 1)

	type candidate struct {
		node     *octree.Node
		priority float64
	}
	var candidates []candidate
	s.cache.ForEach(func(node *octree.Node) {
		if node.State == octree.NodePlaceholder || node.Key.D > maxDepth {
			return
		}
		switch node.State {
		case octree.NodeLoaded, octree.NodeLoading, octree.NodeFailed:
			return
		}
		// retry cooldown: a recently failed node stays selectable, just not yet
		if node.RetryCount > 0 && now.Sub(node.LastFailedAt) < s.opts.RetryCooldown {
			return
		}
		if !viewport.Intersects(node.WGS84Bounds) {
			return
		}
		distance := viewport.DistanceTo(node.WGS84Bounds.Xmid, node.WGS84Bounds.Ymid)
		candidates = append(candidates, candidate{
			node:     node,
			priority: distance - float64(node.Key.D)*s.opts.DepthEpsilon,
		})
	})

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})

	selected := make([]*octree.Node, len(candidates))
	for i, c := range candidates {
		priority := c.priority
		s.cache.Transition(c.node, func(n *octree.Node) { n.Priority = priority })
		selected[i] = c.node
	}
	return selected, nil
}

func (s *ViewportSelector) ensureRootHierarchy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootLoaded {
		return nil
	}
	if err := s.store.LoadRootHierarchy(ctx, s.cache); err != nil {
		return err
	}
	s.rootLoaded = true
	return nil
}

// expandPlaceholders fetches up to ExpandCapPerPass sub catalogs whose
// placeholder node intersects the viewport at a depth shallow enough to
// matter. The cap bounds request fan-out per selection pass; skipped
// placeholders are picked up by later passes.
func (s *ViewportSelector) expandPlaceholders(ctx context.Context, viewport *geometry.Viewport) error {
	maxDepth := int32(viewport.TargetDepth + 2)

	var toExpand []octree.NodeKey
	s.cache.ForEach(func(node *octree.Node) {
		if node.State != octree.NodePlaceholder || node.Key.D > maxDepth {
			return
		}
		if s.cache.IsCatalogExpanded(node.Key) {
			return
		}
		if !viewport.Intersects(node.WGS84Bounds) {
			return
		}
		toExpand = append(toExpand, node.Key)
	})

	if len(toExpand) > s.opts.ExpandCapPerPass {
		toExpand = toExpand[:s.opts.ExpandCapPerPass]
	}
	for _, key := range toExpand {
		if err := s.store.ExpandPlaceholder(ctx, s.cache, key); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets that the root hierarchy was loaded. Used on teardown.
func (s *ViewportSelector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootLoaded = false
}
