package stats

import "math"

// p2Estimator implements the Jain & Chlamtac P² algorithm: a constant-memory
// on-line estimator for a single quantile, tracking five markers whose
// heights approximate the distribution around the target percentile.
type p2Estimator struct {
	p float64

	initBuf   [5]float64
	initCount int

	q  [5]float64 // marker heights
	n  [5]int     // marker positions
	np [5]float64 // desired marker positions
	dn [5]float64 // increments to desired positions
}

func newP2Estimator(percentile float64) *p2Estimator {
	return &p2Estimator{p: percentile / 100}
}

func (e *p2Estimator) update(x float64) {
	if e.initCount < 5 {
		e.initBuf[e.initCount] = x
		e.initCount++
		if e.initCount == 5 {
			e.initializeFrom(e.initBuf)
		}
		return
	}

	var k int
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x < e.q[1]:
		k = 0
	case x < e.q[2]:
		k = 1
	case x < e.q[3]:
		k = 2
	case x <= e.q[4]:
		k = 3
	default:
		e.q[4] = x
		k = 3
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	for i := 1; i <= 3; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qNew := e.parabolic(i, float64(sign))
			if e.q[i-1] < qNew && qNew < e.q[i+1] {
				e.q[i] = qNew
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += sign
		}
	}
}

func (e *p2Estimator) parabolic(i int, d float64) float64 {
	nim1, ni, nip1 := float64(e.n[i-1]), float64(e.n[i]), float64(e.n[i+1])
	qim1, qi, qip1 := e.q[i-1], e.q[i], e.q[i+1]
	return qi + d/(nip1-nim1)*(
		(ni-nim1+d)*(qip1-qi)/(nip1-ni)+
			(nip1-ni-d)*(qi-qim1)/(ni-nim1))
}

func (e *p2Estimator) linear(i, d int) float64 {
	return e.q[i] + float64(d)*(e.q[i+d]-e.q[i])/float64(e.n[i+d]-e.n[i])
}

// initializeFrom seeds the five markers from the first five observations,
// sorted, with the standard P² initial positions 1..5 and desired
// positions/increments derived from the target percentile p.
func (e *p2Estimator) initializeFrom(buf [5]float64) {
	sorted := buf
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	e.q = sorted
	e.n = [5]int{1, 2, 3, 4, 5}
	e.np = [5]float64{1, 1 + 2*e.p, 1 + 4*e.p, 3 + 2*e.p, 5}
	e.dn = [5]float64{0, e.p / 2, e.p, (1 + e.p) / 2, 1}
}

// estimate returns the current percentile estimate, or NaN before the
// fifth observation has been seen.
func (e *p2Estimator) estimate() float64 {
	if e.initCount < 5 {
		return math.NaN()
	}
	return e.q[2]
}
