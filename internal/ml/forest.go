package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ForestConfig holds the fixed hyperparameters of the random forest.
type ForestConfig struct {
	Trees           int   `json:"trees"`
	Seed            int64 `json:"seed"`
	MaxFeatures     int   `json:"max_features"` // 0 means floor(sqrt(features))
	MinSamplesSplit int   `json:"min_samples_split"`
	MaxDepth        int   `json:"max_depth"` // 0 means unlimited
	Workers         int   `json:"-"`
}

// DefaultForestConfig returns 100 fully grown trees with seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		Seed:            42,
		MinSamplesSplit: 2,
		Workers:         4,
	}
}

// RandomForest is an ensemble of CART trees grown on bootstrap samples with
// a random feature subset considered at each split. The fraud probability is
// the mean of the trees' leaf probabilities.
type RandomForest struct {
	Config    ForestConfig `json:"config"`
	NFeatures int          `json:"n_features"`
	Trees     []Tree       `json:"trees"`
}

// Tree is a binary decision tree stored as a flat node slice; node 0 is the root.
type Tree struct {
	Nodes      []Node    `json:"nodes"`
	Importance []float64 `json:"importance"`
}

// Node is either a split (Left/Right > 0) or a leaf carrying the fraction of
// positive samples that reached it.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Prob      float64 `json:"p"`
}

func (n Node) isLeaf() bool {
	return n.Left == 0 && n.Right == 0
}

// FitForest grows cfg.Trees trees on x/y. Per-tree seeds are drawn from
// cfg.Seed before any tree is fit, so the result does not depend on how the
// worker pool schedules trees.
func FitForest(ctx context.Context, x [][]float64, y []int, cfg ForestConfig) (*RandomForest, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("cannot fit forest on empty matrix")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("matrix has %d rows but %d labels", len(x), len(y))
	}
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("tree count must be positive, got %d", cfg.Trees)
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	nFeatures := len(x[0])
	mtry := cfg.MaxFeatures
	if mtry <= 0 {
		mtry = int(math.Sqrt(float64(nFeatures)))
	}
	if mtry < 1 {
		mtry = 1
	}
	if mtry > nFeatures {
		mtry = nFeatures
	}

	master := rand.New(rand.NewSource(cfg.Seed))
	seeds := make([]int64, cfg.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	forest := &RandomForest{
		Config:    cfg,
		NFeatures: nFeatures,
		Trees:     make([]Tree, cfg.Trees),
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b := &treeBuilder{
					x:        x,
					y:        y,
					rng:      rand.New(rand.NewSource(seeds[i])),
					mtry:     mtry,
					minSplit: cfg.MinSamplesSplit,
					maxDepth: cfg.MaxDepth,
					imp:      make([]float64, nFeatures),
				}
				forest.Trees[i] = b.fit()
			}
		}()
	}

	var err error
	for i := 0; i < cfg.Trees; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, fmt.Errorf("forest fit aborted: %w", err)
	}
	return forest, nil
}

// PredictProba returns the positive-class probability for one scaled vector.
func (f *RandomForest) PredictProba(v []float64) (float64, error) {
	if len(v) != f.NFeatures {
		return 0, fmt.Errorf("forest expects %d features, got %d", f.NFeatures, len(v))
	}
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("forest has no trees")
	}

	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].predict(v)
	}
	return sum / float64(len(f.Trees)), nil
}

// Predict returns 1 when the positive-class probability exceeds one half.
func (f *RandomForest) Predict(v []float64) (int, error) {
	p, err := f.PredictProba(v)
	if err != nil {
		return 0, err
	}
	if p > 0.5 {
		return 1, nil
	}
	return 0, nil
}

func (t *Tree) predict(v []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.isLeaf() {
			return n.Prob
		}
		if v[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (f *RandomForest) validate() error {
	if f.NFeatures <= 0 {
		return fmt.Errorf("forest has %d features", f.NFeatures)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.isLeaf() {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NFeatures ||
				n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return nil
}

type treeBuilder struct {
	x        [][]float64
	y        []int
	rng      *rand.Rand
	mtry     int
	minSplit int
	maxDepth int
	nodes    []Node
	imp      []float64
}

type splitCandidate struct {
	feature   int
	threshold float64
	impurity  float64 // weighted child impurity
}

func (b *treeBuilder) fit() Tree {
	n := len(b.x)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = b.rng.Intn(n)
	}

	b.grow(sample, 0)

	total := 0.0
	for _, v := range b.imp {
		total += v
	}
	if total > 0 {
		for j := range b.imp {
			b.imp[j] /= total
		}
	}
	return Tree{Nodes: b.nodes, Importance: b.imp}
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	n := len(idx)

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Prob: float64(pos) / float64(n)})

	if pos == 0 || pos == n || n < b.minSplit || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return self
	}

	best, ok := b.bestSplit(idx, pos)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.imp[best.feature] += float64(n)*gini(pos, n) - best.impurity

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = Node{Feature: best.feature, Threshold: best.threshold, Left: l, Right: r, Prob: b.nodes[self].Prob}
	return self
}

// bestSplit evaluates mtry randomly drawn features and keeps drawing from the
// remaining ones while no valid split has been found.
func (b *treeBuilder) bestSplit(idx []int, pos int) (splitCandidate, bool) {
	nFeatures := len(b.x[0])
	order := b.rng.Perm(nFeatures)

	best := splitCandidate{impurity: math.Inf(1)}
	found := false
	for k, feature := range order {
		if k >= b.mtry && found {
			break
		}
		if c, ok := b.splitOn(idx, pos, feature); ok && c.impurity < best.impurity {
			best, found = c, true
		}
	}
	return best, found
}

type valueLabel struct {
	v float64
	y int
}

// splitOn finds the threshold on one feature minimizing the weighted Gini
// impurity of the children. Thresholds are midpoints between distinct values.
func (b *treeBuilder) splitOn(idx []int, pos, feature int) (splitCandidate, bool) {
	vals := make([]valueLabel, len(idx))
	for k, i := range idx {
		vals[k] = valueLabel{b.x[i][feature], b.y[i]}
	}
	sort.Slice(vals, func(a, c int) bool { return vals[a].v < vals[c].v })

	n := len(vals)
	best := splitCandidate{feature: feature, impurity: math.Inf(1)}
	found := false
	leftPos := 0
	for k := 0; k < n-1; k++ {
		leftPos += vals[k].y
		if vals[k].v == vals[k+1].v {
			continue
		}
		nl, nr := k+1, n-k-1
		imp := float64(nl)*gini(leftPos, nl) + float64(nr)*gini(pos-leftPos, nr)
		if imp < best.impurity {
			threshold := vals[k].v + (vals[k+1].v-vals[k].v)/2
			if threshold >= vals[k+1].v {
				threshold = vals[k].v
			}
			best.threshold = threshold
			best.impurity = imp
			found = true
		}
	}
	return best, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
