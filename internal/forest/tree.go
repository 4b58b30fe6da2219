package forest

import "math/rand"

// node is either an internal split (left != nil) or a leaf holding size rows.
type node struct {
	feature int
	split   float64
	left    *node
	right   *node
	size    int
}

func (n *node) isLeaf() bool { return n.left == nil }

// pathLength counts the edges from the root to the leaf x falls into, plus
// the expected remaining depth of an unbuilt subtree over the leaf's rows.
func (n *node) pathLength(x []float64) float64 {
	depth := 0
	for !n.isLeaf() {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

type builder struct {
	rows        [][]float64
	rng         *rand.Rand
	maxDepth    int
	numFeatures int
	candidates  []int
}

// grow partitions idx in place and returns the subtree isolating it.
func (b *builder) grow(idx []int, depth int) *node {
	if len(idx) <= 1 || depth >= b.maxDepth {
		return &node{size: len(idx)}
	}

	// Only features that still vary inside this node can separate rows.
	b.candidates = b.candidates[:0]
	for f := 0; f < b.numFeatures; f++ {
		if lo, hi := b.span(idx, f); hi > lo {
			b.candidates = append(b.candidates, f)
		}
	}
	if len(b.candidates) == 0 {
		return &node{size: len(idx)}
	}

	feature := b.candidates[b.rng.Intn(len(b.candidates))]
	lo, hi := b.span(idx, feature)
	split := lo + b.rng.Float64()*(hi-lo)

	p := 0
	for i := range idx {
		if b.rows[idx[i]][feature] < split {
			idx[p], idx[i] = idx[i], idx[p]
			p++
		}
	}
	// Only possible when the draw lands exactly on lo.
	if p == 0 || p == len(idx) {
		return &node{size: len(idx)}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    b.grow(idx[:p], depth+1),
		right:   b.grow(idx[p:], depth+1),
		size:    len(idx),
	}
}

func (b *builder) span(idx []int, feature int) (lo, hi float64) {
	lo = b.rows[idx[0]][feature]
	hi = lo
	for _, i := range idx[1:] {
		v := b.rows[i][feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
