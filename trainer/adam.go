package trainer

import "math"

// Adam keeps per-parameter first and second moment estimates keyed by
// parameter name.
type Adam struct {
	lr, beta1, beta2, epsilon float64
	m, v                      map[string][]float64
	t                         int
}

// NewAdam returns an optimizer with the usual defaults for everything but
// the learning rate.
func NewAdam(lr float64) *Adam {
	return &Adam{
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-7,
		m:       make(map[string][]float64),
		v:       make(map[string][]float64),
	}
}

// Step advances the shared time step. Call it once per update, before the
// Update calls for that update.
func (opt *Adam) Step() { opt.t++ }

// Update applies one Adam step to weights in place.
func (opt *Adam) Update(key string, weights, grads []float32) {
	if len(weights) == 0 || len(grads) == 0 {
		return
	}
	if _, ok := opt.m[key]; !ok {
		opt.m[key] = make([]float64, len(weights))
		opt.v[key] = make([]float64, len(weights))
	}
	m := opt.m[key]
	v := opt.v[key]

	t := float64(opt.t)
	if t < 1 {
		t = 1
	}
	lrT := opt.lr * math.Sqrt(1-math.Pow(opt.beta2, t)) / (1 - math.Pow(opt.beta1, t))

	for i := range weights {
		g := float64(grads[i])
		m[i] = opt.beta1*m[i] + (1-opt.beta1)*g
		v[i] = opt.beta2*v[i] + (1-opt.beta2)*g*g
		weights[i] -= float32(lrT * m[i] / (math.Sqrt(v[i]) + opt.epsilon))
	}
}
