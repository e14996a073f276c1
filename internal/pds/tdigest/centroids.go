package tdigest

import "approx.lopezb.com/internal/pds/avltree"

// groupTree is the ordered set of centroids behind a digest. Centroids are kept
// in an AVL tree ordered by mean; equal means sort to the right of existing
// ones. Each node also carries the total count of its subtree so that rank
// queries (floorSumNode, headSum) run in O(log n).
type groupTree struct {
	tree *avltree.Tree

	// staged centroid for Add/Update
	stagedMean  float64
	stagedCount int64

	means  []float64
	counts []int64
	aggs   []int64
}

func newGroupTree() *groupTree {
	g := &groupTree{}
	g.tree = avltree.New(g, 0)
	g.means = make([]float64, g.tree.Capacity())
	g.counts = make([]int64, g.tree.Capacity())
	g.aggs = make([]int64, g.tree.Capacity())
	return g
}

func (g *groupTree) Compare(node int) int {
	if g.stagedMean < g.means[node] {
		return -1
	}
	return 1
}

func (g *groupTree) Copy(node int) {
	g.means[node] = g.stagedMean
	g.counts[node] = g.stagedCount
}

func (g *groupTree) Aggregate(node int) {
	g.aggs[node] = g.counts[node] + g.aggs[g.tree.Left(node)] + g.aggs[g.tree.Right(node)]
}

func (g *groupTree) Resize(capacity int) {
	g.means = avltree.Grow(g.means, capacity)
	g.counts = avltree.Grow(g.counts, capacity)
	g.aggs = avltree.Grow(g.aggs, capacity)
}

func (g *groupTree) size() int { return g.tree.Size() }

// total is the sum of all centroid counts.
func (g *groupTree) total() int64 { return g.aggs[g.tree.Root()] }

func (g *groupTree) mean(node int) float64 { return g.means[node] }
func (g *groupTree) weight(node int) int64 { return g.counts[node] }

func (g *groupTree) next(node int) int { return g.tree.Next(node) }
func (g *groupTree) prev(node int) int { return g.tree.Prev(node) }

func (g *groupTree) least() int {
	root := g.tree.Root()
	if root == avltree.NIL {
		return avltree.NIL
	}
	return g.tree.Least(root)
}

func (g *groupTree) add(mean float64, count int64) {
	g.stagedMean, g.stagedCount = mean, count
	g.tree.Add()
}

func (g *groupTree) update(node int, mean float64, count int64) {
	g.stagedMean, g.stagedCount = mean, count
	g.tree.Update(node)
}

// floorNode returns the last node whose mean is strictly less than x, or NIL.
func (g *groupTree) floorNode(x float64) int {
	floor := avltree.NIL
	for node := g.tree.Root(); node != avltree.NIL; {
		if x <= g.means[node] {
			node = g.tree.Left(node)
		} else {
			floor = node
			node = g.tree.Right(node)
		}
	}
	return floor
}

// floorSumNode returns the last node such that the total count of the nodes
// before it is <= sum, or NIL.
func (g *groupTree) floorSumNode(sum int64) int {
	floor := avltree.NIL
	for node := g.tree.Root(); node != avltree.NIL; {
		left := g.tree.Left(node)
		leftCount := g.aggs[left]
		if leftCount <= sum {
			floor = node
			sum -= leftCount + g.counts[node]
			node = g.tree.Right(node)
		} else {
			node = left
		}
	}
	return floor
}

// headSum returns the total count of the nodes strictly before node.
func (g *groupTree) headSum(node int) int64 {
	sum := g.aggs[g.tree.Left(node)]
	for n, p := node, g.tree.Parent(node); p != avltree.NIL; n, p = p, g.tree.Parent(p) {
		if n == g.tree.Right(p) {
			sum += g.counts[p] + g.aggs[g.tree.Left(p)]
		}
	}
	return sum
}
