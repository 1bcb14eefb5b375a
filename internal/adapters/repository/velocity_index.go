package repository

import (
	"hash/fnv"
	"math"
)

// velocityIndex orders trend ids by velocity desc, then id asc. It is a treap
// keyed on (velocity, id) with priorities hashed from the id, so the shape is
// deterministic for a given set of entries.

// velocityScale converts velocities to fixed point so ties compare exactly.
const velocityScale = 1_000_000_000

type velocityFP int64

func toFixedPoint(v float64) velocityFP {
	switch {
	case math.IsNaN(v):
		return 0
	case v*velocityScale >= math.MaxInt64:
		return velocityFP(math.MaxInt64)
	case v*velocityScale <= math.MinInt64:
		return velocityFP(math.MinInt64)
	}
	return velocityFP(math.Round(v * velocityScale))
}

type treapNode struct {
	id       string
	velocity velocityFP
	prio     uint64
	left     *treapNode
	right    *treapNode
}

// ranksBefore reports whether (aV, aID) is listed before (bV, bID).
func ranksBefore(aV velocityFP, aID string, bV velocityFP, bID string) bool {
	if aV != bV {
		return aV > bV
	}
	return aID < bID
}

func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func rotateRight(y *treapNode) *treapNode {
	x := y.left
	y.left = x.right
	x.right = y
	return x
}

func rotateLeft(x *treapNode) *treapNode {
	y := x.right
	x.right = y.left
	y.left = x
	return y
}

func insertNode(n *treapNode, id string, v velocityFP) *treapNode {
	if n == nil {
		return &treapNode{id: id, velocity: v, prio: priority(id)}
	}
	if ranksBefore(v, id, n.velocity, n.id) {
		n.left = insertNode(n.left, id, v)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insertNode(n.right, id, v)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	return n
}

func deleteNode(n *treapNode, id string, v velocityFP) *treapNode {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id && n.velocity == v:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, v)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, v)
		}
	case ranksBefore(v, id, n.velocity, n.id):
		n.left = deleteNode(n.left, id, v)
	default:
		n.right = deleteNode(n.right, id, v)
	}
	return n
}

type velocityIndex struct {
	root *treapNode
	byID map[string]velocityFP
}

func newVelocityIndex() *velocityIndex {
	return &velocityIndex{byID: make(map[string]velocityFP)}
}

// Put inserts id or moves it to its new velocity.
func (x *velocityIndex) Put(id string, velocity float64) {
	v := toFixedPoint(velocity)
	if old, ok := x.byID[id]; ok {
		if old == v {
			return
		}
		x.root = deleteNode(x.root, id, old)
	}
	x.byID[id] = v
	x.root = insertNode(x.root, id, v)
}

// Remove drops id if present.
func (x *velocityIndex) Remove(id string) {
	if old, ok := x.byID[id]; ok {
		x.root = deleteNode(x.root, id, old)
		delete(x.byID, id)
	}
}

// Len returns the number of indexed ids.
func (x *velocityIndex) Len() int {
	return len(x.byID)
}

// Ascend calls fn for ids in rank order until fn returns false.
func (x *velocityIndex) Ascend(fn func(id string) bool) {
	ascend(x.root, fn)
}

func ascend(n *treapNode, fn func(id string) bool) bool {
	if n == nil {
		return true
	}
	if !ascend(n.left, fn) {
		return false
	}
	if !fn(n.id) {
		return false
	}
	return ascend(n.right, fn)
}
