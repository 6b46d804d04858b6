package io

import "github.com/ecopia-map/cloud_stream/internal/octree"

// queueItem pins the priority a node was enqueued with. Later selection
// passes may re-rank the node while it sits in the queue, so the heap orders
// on its own copy instead of reading the descriptor.
type queueItem struct {
	node     *octree.Node
	priority float64
}

// min-heap over the enqueue time priority, used by the load scheduler
type nodeQueue []queueItem

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool { return q[i].priority < q[j].priority }

func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x interface{}) {
	*q = append(*q, x.(queueItem))
}

func (q *nodeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*q = old[:n-1]
	return item
}
