package iforest

import (
	"errors"
	"math"
	"math/rand"

	"chain-anomaly-watch/internal/ml/common"
)

const (
	ModelKey   = "iforest"
	eulerGamma = 0.5772156649015329
)

var ErrTooFewSamples = errors.New("isolation forest needs at least two samples")

type Options struct {
	Trees      int
	SampleSize int
}

func DefaultOptions() Options {
	return Options{
		Trees:      100,
		SampleSize: 256,
	}
}

type node struct {
	feature int
	split   float64
	left    *node
	right   *node
	size    int
}

func (n *node) leaf() bool {
	return n.left == nil && n.right == nil
}

// Forest is a fitted isolation forest.
type Forest struct {
	trees      []*node
	sampleSize int
	width      int
}

// Fit grows opts.Trees isolation trees, each on a random sub-sample drawn
// without replacement. All randomness comes from seed.
func Fit(samples [][]float64, opts Options, seed int64) (*Forest, error) {
	if len(samples) < 2 {
		return nil, ErrTooFewSamples
	}
	if !common.ValidMatrix(samples) {
		return nil, errors.New("invalid feature matrix")
	}
	if opts.Trees <= 0 {
		opts.Trees = DefaultOptions().Trees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultOptions().SampleSize
	}

	psi := opts.SampleSize
	if psi > len(samples) {
		psi = len(samples)
	}
	limit := int(math.Ceil(math.Log2(float64(psi))))

	rng := rand.New(rand.NewSource(seed))
	trees := make([]*node, opts.Trees)
	for t := range trees {
		idx := rng.Perm(len(samples))[:psi]
		trees[t] = grow(samples, idx, 0, limit, rng)
	}
	return &Forest{trees: trees, sampleSize: psi, width: len(samples[0])}, nil
}

func grow(samples [][]float64, idx []int, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(idx) <= 1 {
		return &node{size: len(idx)}
	}

	width := len(samples[idx[0]])
	type bounds struct {
		feature int
		lo, hi  float64
	}
	candidates := make([]bounds, 0, width)
	for f := 0; f < width; f++ {
		lo, hi := samples[idx[0]][f], samples[idx[0]][f]
		for _, i := range idx[1:] {
			v := samples[i][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if lo < hi {
			candidates = append(candidates, bounds{feature: f, lo: lo, hi: hi})
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(idx)}
	}

	b := candidates[rng.Intn(len(candidates))]
	split := b.lo + rng.Float64()*(b.hi-b.lo)

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if samples[i][b.feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &node{
		feature: b.feature,
		split:   split,
		size:    len(idx),
		left:    grow(samples, left, depth+1, limit, rng),
		right:   grow(samples, right, depth+1, limit, rng),
	}
}

// Score returns the anomaly score in (0, 1]; values near 1 are easy to isolate.
func (f *Forest) Score(sample []float64) float64 {
	if f == nil || len(f.trees) == 0 || len(sample) != f.width {
		return 0.5
	}
	norm := averagePathLength(f.sampleSize)
	if norm == 0 {
		return 0.5
	}
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, sample, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/norm)
}

func (f *Forest) ScoreBatch(samples [][]float64) []float64 {
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = f.Score(samples[i])
	}
	return out
}

func pathLength(n *node, sample []float64, depth int) float64 {
	for !n.leaf() {
		if sample[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		return 2*(math.Log(float64(n-1))+eulerGamma) - 2*float64(n-1)/float64(n)
	}
}
