package qwen3

import (
	"math"
	"runtime"
	"sync"
)

// matrix is a row-major [rows x cols] weight in Hugging Face Linear layout,
// so mulVec computes W·x.
type matrix struct {
	rows, cols int
	data       []float32
}

// parallelMin is the smallest weight, in values, worth splitting across
// goroutines.
const parallelMin = 1 << 16

func (m matrix) mulVec(dst, x []float32) {
	workers := runtime.GOMAXPROCS(0)
	if workers <= 1 || m.rows*m.cols < parallelMin {
		m.rowsTo(dst, x, 0, m.rows)
		return
	}
	chunk := (m.rows + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < m.rows; start += chunk {
		end := min(start+chunk, m.rows)
		wg.Go(func() { m.rowsTo(dst, x, start, end) })
	}
	wg.Wait()
}

func (m matrix) rowsTo(dst, x []float32, start, end int) {
	for r := start; r < end; r++ {
		dst[r] = dot(m.data[r*m.cols:(r+1)*m.cols], x)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// rmsNorm may run in place (dst == src).
func rmsNorm(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	scale := float32(1 / math.Sqrt(float64(sum/float32(len(src))+eps)))
	for i, v := range src {
		dst[i] = v * scale * weight[i]
	}
}

func softmax(x []float32) {
	maxv := x[0]
	for _, v := range x[1:] {
		maxv = max(maxv, v)
	}
	var sum float64
	for i, v := range x {
		e := math.Exp(float64(v - maxv))
		x[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range x {
		x[i] *= inv
	}
}

func silu(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

func ropeInvFreq(headDim int, theta float64) []float64 {
	inv := make([]float64, headDim/2)
	for i := range inv {
		inv[i] = 1 / math.Pow(theta, float64(2*i)/float64(headDim))
	}
	return inv
}

// applyRoPE rotates each head in the half-split layout Hugging Face
// checkpoints use: dimension i pairs with i+headDim/2.
func applyRoPE(x []float32, heads, headDim, pos int, invFreq []float64) {
	half := headDim / 2
	for h := range heads {
		v := x[h*headDim : (h+1)*headDim]
		for i := range half {
			s, c := math.Sincos(float64(pos) * invFreq[i])
			x0, x1 := v[i], v[i+half]
			v[i] = x0*float32(c) - x1*float32(s)
			v[i+half] = x1*float32(c) + x0*float32(s)
		}
	}
}
