package octree

import "sync"

// NodeCache is the arena backing the virtual octree: a flat key to descriptor
// map, single owner of per node metadata and lifecycle state. The tree is
// addressed by computed keys rather than child pointers, so teardown is a
// single clear operation.
type NodeCache struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	// EPT sub catalogs already fetched, keyed by the root key of the document
	expandedCatalogs map[string]bool
}

func NewNodeCache() *NodeCache {
	return &NodeCache{
		nodes:            make(map[string]*Node),
		expandedCatalogs: make(map[string]bool),
	}
}

// Put inserts the node if its key is not known yet and returns the descriptor
// the cache holds afterwards. A key already present is never overwritten, so
// hierarchy reloads cannot reset lifecycle state.
func (c *NodeCache) Put(node *Node) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := node.Key.String()
	if existing, ok := c.nodes[key]; ok {
		// a placeholder may be upgraded once its real entry is discovered
		if existing.State == NodePlaceholder && node.State != NodePlaceholder {
			c.nodes[key] = node
			return node
		}
		return existing
	}
	c.nodes[key] = node
	return node
}

func (c *NodeCache) Get(key NodeKey) (*Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[key.String()]
	return node, ok
}

// ForEach invokes fn on every known node. fn must not mutate the map.
func (c *NodeCache) ForEach(fn func(node *Node)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, node := range c.nodes {
		fn(node)
	}
}

func (c *NodeCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// MarkCatalogExpanded records that the sub catalog rooted at key has been
// fetched. Returns false when it was already marked.
func (c *NodeCache) MarkCatalogExpanded(key NodeKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String()
	if c.expandedCatalogs[k] {
		return false
	}
	c.expandedCatalogs[k] = true
	return true
}

func (c *NodeCache) IsCatalogExpanded(key NodeKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expandedCatalogs[key.String()]
}

// Transition applies fn to a node under the cache write lock. Lifecycle
// fields of a Node (State, Priority, BufferStart, RetryCount, LastFailedAt,
// Err) are written only through this method, so selection passes iterating
// the cache never observe a half applied mutation.
func (c *NodeCache) Transition(node *Node, fn func(*Node)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(node)
}

// View runs fn with the node under the cache read lock, pairing with
// Transition for readers outside ForEach
func (c *NodeCache) View(node *Node, fn func(*Node)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(node)
}

// CountByState returns the number of nodes per lifecycle state
func (c *NodeCache) CountByState() map[NodeState]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[NodeState]int)
	for _, node := range c.nodes {
		counts[node.State]++
	}
	return counts
}

// CountByDepth returns node and point totals per octree depth, placeholders
// excluded from the point sum
func (c *NodeCache) CountByDepth() map[int32][2]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[int32][2]int64)
	for _, node := range c.nodes {
		entry := counts[node.Key.D]
		entry[0]++
		if node.State != NodePlaceholder {
			entry[1] += node.PointCount
		}
		counts[node.Key.D] = entry
	}
	return counts
}

// Clear drops every descriptor and expansion record. Liveness of in flight
// decodes is checked against the cache by the scheduler, so clearing also
// invalidates their results.
func (c *NodeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[string]*Node)
	c.expandedCatalogs = make(map[string]bool)
}
