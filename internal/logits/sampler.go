package logits

import (
	"cmp"
	"math"
	"math/rand"
	"slices"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed        int64
	Temperature float32
	// TopK <= 0 keeps the whole vocabulary.
	TopK int
	TopP float32
	MinP float32
}

// Sampler picks the next token id from a logits vector. It keeps scratch
// buffers between calls and is not safe for concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	topIdx []int
	topVal []float32
	prob   []float64
	order  []int
}

// NewSampler returns a new sampler with the provided configuration. A
// temperature <= 0 selects greedy argmax decoding.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.MinP < 0 || cfg.MinP >= 1 {
		cfg.MinP = 0
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy || cfg.TopK == 1,
	}
}

// Greedy reports whether Sample always returns the argmax.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws a single index from logits:
//
//  1. Greedy samplers return the argmax.
//  2. Otherwise logits are scaled by 1/temperature and the TopK largest
//     are kept, ordered largest first.
//  3. A softmax over the shortlist is taken, then min-p and top-p trim it.
//  4. A uniform draw selects an index from what remains.
//
// logits must not be empty.
func (s *Sampler) Sample(logits []float32) int {
	if s.greedy {
		return argmax(logits)
	}

	k := len(logits)
	if s.cfg.TopK > 0 {
		k = min(s.cfg.TopK, k)
	}
	topIdx, topVal := s.topK(logits, k, 1/s.cfg.Temperature)

	if cap(s.prob) < len(topVal) {
		s.prob = make([]float64, len(topVal))
	}
	prob := s.prob[:len(topVal)]
	maxv := topVal[0]
	var sum float64
	for i, v := range topVal {
		e := math.Exp(float64(v - maxv))
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		return topIdx[0]
	}
	for i := range prob {
		prob[i] /= sum
	}

	if s.cfg.MinP > 0 {
		threshold := prob[0] * float64(s.cfg.MinP)
		n := 0
		var kept float64
		for i := range prob {
			if prob[i] >= threshold {
				prob[n] = prob[i]
				topIdx[n] = topIdx[i]
				kept += prob[i]
				n++
			}
		}
		prob = prob[:n]
		for i := range prob {
			prob[i] /= kept
		}
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	var mass float64
	for i := 0; i < cut; i++ {
		mass += prob[i]
	}
	r := s.rng.Float64() * mass
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r < c {
			return topIdx[i]
		}
	}
	return topIdx[cut-1]
}

// ApplyRepeatPenalty discourages tokens that occur in context: each
// distinct id has its logit divided by penalty when non-negative and
// multiplied by it otherwise. Ids outside logits are ignored.
func ApplyRepeatPenalty(logits []float32, penalty float32, context []int) {
	if penalty == 1 || penalty <= 0 {
		return
	}
	seen := make([]int, 0, len(context))
	for _, id := range context {
		if id < 0 || id >= len(logits) || slices.Contains(seen, id) {
			continue
		}
		seen = append(seen, id)
		if logits[id] >= 0 {
			logits[id] /= penalty
		} else {
			logits[id] *= penalty
		}
	}
}

// argmax returns the index of the maximum value. Ties resolve to the lowest
// index.
func argmax(x []float32) int {
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// insertionLimit is the largest k for which topK uses the O(V*K)
// insertion pass instead of a full sort.
const insertionLimit = 64

// topK returns the indices and values of the k largest elements in logits,
// scaled by invTemp, ordered largest first.
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	if k > insertionLimit {
		if cap(s.order) < len(logits) {
			s.order = make([]int, len(logits))
		}
		order := s.order[:len(logits)]
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(logits[b], logits[a]) })
		for _, i := range order[:k] {
			topIdx = append(topIdx, i)
			topVal = append(topVal, logits[i]*invTemp)
		}
		s.topIdx, s.topVal = topIdx, topVal
		return topIdx, topVal
	}

	for i, l := range logits {
		v := l * invTemp

		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.topIdx, s.topVal = topIdx, topVal
	return topIdx, topVal
}
