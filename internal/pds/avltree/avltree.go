// Package avltree implements a self-balancing binary search tree over integer
// node handles.
//
// The tree owns only structure. Node payloads (keys, counts, whatever the
// caller orders by) live in arrays owned by the caller and indexed by the same
// handles the tree hands out. This keeps every node as a handful of integers
// in contiguous slices instead of a pointer-linked object graph, which is what
// makes a sketch with tens of thousands of nodes cheap to walk and to copy.
//
// Node Arena
// ==========
//
// Structure is stored in four parallel slices indexed by handle:
//
//	+--------+--------+--------+--------+
//	| parent | left   | right  | depth  |
//	+--------+--------+--------+--------+
//	  int      int      int      int8
//
// Handle 0 is NIL. Slot 0 of every slice (including the caller's payload
// slices) is never written, so depth(NIL) and any aggregate at NIL read as 0.
// Handles start at 1. Released handles go onto a free stack and are handed out
// again before fresh handles are minted.
//
// When a minted handle reaches the current capacity, all slices grow to
// handle + 1 plus one eighth, and the payload is asked to grow its own slices
// to the same capacity.
//
// Payload Hooks
// =============
//
// The caller stages the value it wants to insert (or the replacement value for
// an update) in its own fields, then calls Add or Update. The tree calls back:
//
//   - Compare(node): sign of staged value minus the value stored at node. A
//     zero result means "equal" and Add refuses the insertion.
//   - Copy(node): commit the staged value into node's payload slot.
//   - Aggregate(node): recompute subtree aggregates for node. The tree has
//     already fixed node's depth and both children are up to date.
//   - Resize(capacity): grow payload slices to capacity.
//
// Balance
// =======
//
// After every structural change the path from the changed node to the root is
// walked. Each node gets its depth and aggregates recomputed. A balance factor
// of +2 or -2 triggers a single or double rotation. Any other factor outside
// [-1, 1] means the tree is corrupt and the walk panics.
package avltree

import "fmt"

// NIL is the null node handle.
const NIL = 0

const defaultCapacity = 16

// Payload is implemented by the owner of the per-node data.
type Payload interface {
	Compare(node int) int
	Copy(node int)
	Aggregate(node int)
	Resize(capacity int)
}

// Tree is an AVL tree of integer handles. It is not safe for concurrent use.
type Tree struct {
	payload Payload
	root    int

	parent []int
	left   []int
	right  []int
	depth  []int8

	nextNode int
	released []int
}

// New creates an empty tree. A non-positive capacity selects the default.
// The payload is not asked to resize for the initial capacity; callers size
// their slices with Capacity() after New returns.
func New(payload Payload, capacity int) *Tree {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Tree{
		payload:  payload,
		root:     NIL,
		parent:   make([]int, capacity),
		left:     make([]int, capacity),
		right:    make([]int, capacity),
		depth:    make([]int8, capacity),
		nextNode: NIL + 1,
	}
}

// Root returns the root handle, or NIL if the tree is empty.
func (t *Tree) Root() int { return t.root }

// Capacity returns the number of handle slots currently allocated.
func (t *Tree) Capacity() int { return len(t.parent) }

// Size returns the number of live nodes.
func (t *Tree) Size() int { return t.nextNode - len(t.released) - 1 }

func (t *Tree) Parent(node int) int { return t.parent[node] }
func (t *Tree) Left(node int) int   { return t.left[node] }
func (t *Tree) Right(node int) int  { return t.right[node] }
func (t *Tree) Depth(node int) int  { return int(t.depth[node]) }

// Least returns the leftmost node of the subtree rooted at node.
func (t *Tree) Least(node int) int {
	for {
		l := t.left[node]
		if l == NIL {
			return node
		}
		node = l
	}
}

// Largest returns the rightmost node of the subtree rooted at node.
func (t *Tree) Largest(node int) int {
	for {
		r := t.right[node]
		if r == NIL {
			return node
		}
		node = r
	}
}

// Next returns the in-order successor of node, or NIL.
func (t *Tree) Next(node int) int {
	if r := t.right[node]; r != NIL {
		return t.Least(r)
	}
	p := t.parent[node]
	for p != NIL && node == t.right[p] {
		node = p
		p = t.parent[p]
	}
	return p
}

// Prev returns the in-order predecessor of node, or NIL.
func (t *Tree) Prev(node int) int {
	if l := t.left[node]; l != NIL {
		return t.Largest(l)
	}
	p := t.parent[node]
	for p != NIL && node == t.left[p] {
		node = p
		p = t.parent[p]
	}
	return p
}

// Add inserts the payload's staged value. It returns false, leaving the tree
// unchanged, if Compare reported an equal node on the way down.
func (t *Tree) Add() bool {
	if t.root == NIL {
		t.root = t.newNode()
		t.payload.Copy(t.root)
		t.fixAggregates(t.root)
		return true
	}

	node := t.root
	parent := NIL
	cmp := 0
	for node != NIL {
		cmp = t.payload.Compare(node)
		switch {
		case cmp < 0:
			parent = node
			node = t.left[node]
		case cmp > 0:
			parent = node
			node = t.right[node]
		default:
			return false
		}
	}

	node = t.newNode()
	t.payload.Copy(node)
	t.parent[node] = parent
	if cmp < 0 {
		t.left[parent] = node
	} else {
		t.right[parent] = node
	}

	t.rebalance(node)
	return true
}

// Update replaces the value at node with the payload's staged value. When the
// staged value still sorts strictly between node's neighbours the write is done
// in place and only aggregates on the root path are refreshed; otherwise the
// node is removed and the staged value inserted again.
func (t *Tree) Update(node int) {
	prev := t.Prev(node)
	next := t.Next(node)

	if (prev == NIL || t.payload.Compare(prev) > 0) && (next == NIL || t.payload.Compare(next) < 0) {
		t.payload.Copy(node)
		for n := node; n != NIL; n = t.parent[n] {
			t.fixAggregates(n)
		}
		return
	}

	t.Remove(node)
	t.Add()
}

// Remove deletes node from the tree and releases its handle.
func (t *Tree) Remove(node int) {
	if node == NIL {
		panic("avltree: remove of NIL node")
	}

	if t.left[node] != NIL && t.right[node] != NIL {
		t.swap(node, t.Next(node))
	}

	parent := t.parent[node]
	child := t.left[node]
	if child == NIL {
		child = t.right[node]
	}

	if child == NIL {
		switch {
		case node == t.root:
			t.root = NIL
		case node == t.left[parent]:
			t.left[parent] = NIL
		default:
			t.right[parent] = NIL
		}
	} else {
		switch {
		case node == t.root:
			t.root = child
		case node == t.left[parent]:
			t.left[parent] = child
		default:
			t.right[parent] = child
		}
		t.parent[child] = parent
	}

	t.release(node)
	t.rebalance(parent)
}

func (t *Tree) newNode() int {
	var node int
	if n := len(t.released); n > 0 {
		node = t.released[n-1]
		t.released = t.released[:n-1]
	} else {
		node = t.nextNode
		t.nextNode++
	}
	if node >= t.Capacity() {
		t.resize(oversize(node + 1))
	}
	return node
}

func (t *Tree) release(node int) {
	t.left[node] = NIL
	t.right[node] = NIL
	t.parent[node] = NIL
	t.released = append(t.released, node)
}

func oversize(size int) int {
	return size + size>>3
}

func (t *Tree) resize(capacity int) {
	t.parent = Grow(t.parent, capacity)
	t.left = Grow(t.left, capacity)
	t.right = Grow(t.right, capacity)
	t.depth = Grow(t.depth, capacity)
	t.payload.Resize(capacity)
}

// Grow copies s into a slice of length capacity. Payload implementations use
// it from their Resize hook.
func Grow[T any](s []T, capacity int) []T {
	if capacity <= len(s) {
		return s
	}
	out := make([]T, capacity)
	copy(out, s)
	return out
}

// swap exchanges the tree positions of node1 and node2, including depth.
// Payload slots stay with their handles. The statement order handles the case
// where node2 is a direct child of node1.
func (t *Tree) swap(node1, node2 int) {
	parent1 := t.parent[node1]
	parent2 := t.parent[node2]

	if parent1 != NIL {
		if node1 == t.left[parent1] {
			t.left[parent1] = node2
		} else {
			t.right[parent1] = node2
		}
	} else {
		t.root = node2
	}

	if parent2 != NIL {
		if node2 == t.left[parent2] {
			t.left[parent2] = node1
		} else {
			t.right[parent2] = node1
		}
	} else {
		t.root = node1
	}

	t.parent[node1] = parent2
	t.parent[node2] = parent1

	left1, left2 := t.left[node1], t.left[node2]
	right1, right2 := t.right[node1], t.right[node2]

	t.left[node1] = left2
	t.left[node2] = left1
	t.right[node1] = right2
	t.right[node2] = right1

	if left2 != NIL {
		t.parent[left2] = node1
	}
	if left1 != NIL {
		t.parent[left1] = node2
	}
	if right2 != NIL {
		t.parent[right2] = node1
	}
	if right1 != NIL {
		t.parent[right1] = node2
	}

	t.depth[node1], t.depth[node2] = t.depth[node2], t.depth[node1]
}

func (t *Tree) balanceFactor(node int) int {
	return int(t.depth[t.left[node]]) - int(t.depth[t.right[node]])
}

func (t *Tree) rebalance(node int) {
	for n := node; n != NIL; {
		p := t.parent[n]

		t.fixAggregates(n)

		switch bf := t.balanceFactor(n); bf {
		case -2:
			if r := t.right[n]; t.balanceFactor(r) == 1 {
				t.rotateRight(r)
			}
			t.rotateLeft(n)
		case 2:
			if l := t.left[n]; t.balanceFactor(l) == -1 {
				t.rotateLeft(l)
			}
			t.rotateRight(n)
		case -1, 0, 1:
		default:
			panic(fmt.Sprintf("avltree: balance factor %d at node %d", bf, n))
		}

		n = p
	}
}

func (t *Tree) fixAggregates(node int) {
	t.depth[node] = 1 + max(t.depth[t.left[node]], t.depth[t.right[node]])
	t.payload.Aggregate(node)
}

func (t *Tree) rotateLeft(node int) {
	r := t.right[node]
	lr := t.left[r]
	t.right[node] = lr
	if lr != NIL {
		t.parent[lr] = node
	}
	p := t.parent[node]
	t.parent[r] = p
	switch {
	case p == NIL:
		t.root = r
	case t.left[p] == node:
		t.left[p] = r
	default:
		t.right[p] = r
	}
	t.left[r] = node
	t.parent[node] = r
	t.fixAggregates(node)
	t.fixAggregates(r)
}

func (t *Tree) rotateRight(node int) {
	l := t.left[node]
	rl := t.right[l]
	t.left[node] = rl
	if rl != NIL {
		t.parent[rl] = node
	}
	p := t.parent[node]
	t.parent[l] = p
	switch {
	case p == NIL:
		t.root = l
	case t.right[p] == node:
		t.right[p] = l
	default:
		t.left[p] = l
	}
	t.right[l] = node
	t.parent[node] = l
	t.fixAggregates(node)
	t.fixAggregates(l)
}
