package scorer

import (
	"math"
	"math/rand"
)

// network is a single-step LSTM cell feeding a ReLU dense layer and a
// sigmoid output unit. Each input is a sequence of length one with zero
// initial state, so the forget gate multiplies a zero cell and is left out.
//
// All parameters live in one flat slice so the optimizer can treat them
// uniformly. Layout:
//
//	Wi, Wg, Wo  [H×D]   input, candidate and output gate weights
//	bi, bg, bo  [H]
//	W1          [F×H]   dense layer
//	b1          [F]
//	w2          [F]     output unit
//	b2          [1]
type network struct {
	D, H, F int
	w       []float64
}

func paramCount(d, h, f int) int {
	return 3*h*d + 3*h + f*h + f + f + 1
}

func newNetwork(d, h, f int, rng *rand.Rand) *network {
	n := &network{D: d, H: h, F: f, w: make([]float64, paramCount(d, h, f))}
	glorot := func(off, fanIn, fanOut int) {
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		for i := 0; i < fanIn*fanOut; i++ {
			n.w[off+i] = (rng.Float64()*2 - 1) * limit
		}
	}
	for g := 0; g < 3; g++ {
		glorot(n.gateW(g), d, h)
	}
	glorot(n.w1(), h, f)
	glorot(n.w2(), f, 1)
	return n
}

// offsets into w
func (n *network) gateW(g int) int { return g * n.H * n.D }
func (n *network) gateB(g int) int { return 3*n.H*n.D + g*n.H }
func (n *network) w1() int         { return 3*n.H*n.D + 3*n.H }
func (n *network) b1() int         { return n.w1() + n.F*n.H }
func (n *network) w2() int         { return n.b1() + n.F }
func (n *network) b2() int         { return n.w2() + n.F }

// activations holds the forward pass values backprop needs.
type activations struct {
	i, g, o, tc, h []float64
	z1, a1         []float64
	p              float64
}

func newActivations(h, f int) *activations {
	return &activations{
		i: make([]float64, h), g: make([]float64, h), o: make([]float64, h),
		tc: make([]float64, h), h: make([]float64, h),
		z1: make([]float64, f), a1: make([]float64, f),
	}
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func (n *network) gate(g, k int, x []float64) float64 {
	w := n.w[n.gateW(g)+k*n.D : n.gateW(g)+(k+1)*n.D]
	z := n.w[n.gateB(g)+k]
	for j, xj := range x {
		z += w[j] * xj
	}
	return z
}

func (n *network) forward(x []float64, a *activations) float64 {
	for k := 0; k < n.H; k++ {
		a.i[k] = sigmoid(n.gate(0, k, x))
		a.g[k] = math.Tanh(n.gate(1, k, x))
		a.o[k] = sigmoid(n.gate(2, k, x))
		a.tc[k] = math.Tanh(a.i[k] * a.g[k])
		a.h[k] = a.o[k] * a.tc[k]
	}

	w1, b1 := n.w1(), n.b1()
	for u := 0; u < n.F; u++ {
		z := n.w[b1+u]
		row := n.w[w1+u*n.H : w1+(u+1)*n.H]
		for k, hk := range a.h {
			z += row[k] * hk
		}
		a.z1[u] = z
		a.a1[u] = math.Max(0, z)
	}

	w2 := n.w2()
	z := n.w[n.b2()]
	for u, au := range a.a1 {
		z += n.w[w2+u] * au
	}
	a.p = sigmoid(z)
	return a.p
}

// backward accumulates the binary cross-entropy gradient for one sample
// into grad, given the forward activations and target y.
func (n *network) backward(x []float64, a *activations, y float64, grad, dh []float64) {
	dz2 := a.p - y

	w1, b1, w2 := n.w1(), n.b1(), n.w2()
	grad[n.b2()] += dz2
	for k := range dh {
		dh[k] = 0
	}
	for u := 0; u < n.F; u++ {
		grad[w2+u] += dz2 * a.a1[u]
		if a.z1[u] <= 0 {
			continue
		}
		dz1 := dz2 * n.w[w2+u]
		grad[b1+u] += dz1
		row := w1 + u*n.H
		for k := 0; k < n.H; k++ {
			grad[row+k] += dz1 * a.h[k]
			dh[k] += dz1 * n.w[row+k]
		}
	}

	for k := 0; k < n.H; k++ {
		dzo := dh[k] * a.tc[k] * a.o[k] * (1 - a.o[k])
		dc := dh[k] * a.o[k] * (1 - a.tc[k]*a.tc[k])
		dzi := dc * a.g[k] * a.i[k] * (1 - a.i[k])
		dzg := dc * a.i[k] * (1 - a.g[k]*a.g[k])

		for g, dz := range [3]float64{dzi, dzg, dzo} {
			grad[n.gateB(g)+k] += dz
			off := n.gateW(g) + k*n.D
			for j, xj := range x {
				grad[off+j] += dz * xj
			}
		}
	}
}

// adam is the Adam optimizer over a flat parameter vector.
type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(size int, lr float64) *adam {
	return &adam{
		lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7,
		m: make([]float64, size), v: make([]float64, size),
	}
}

func (o *adam) step(w, grad []float64) {
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, g := range grad {
		o.m[i] = o.beta1*o.m[i] + (1-o.beta1)*g
		o.v[i] = o.beta2*o.v[i] + (1-o.beta2)*g*g
		w[i] -= o.lr * (o.m[i] / c1) / (math.Sqrt(o.v[i]/c2) + o.eps)
	}
}

const bceEps = 1e-7

func bce(p, y float64) float64 {
	p = math.Min(math.Max(p, bceEps), 1-bceEps)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}
