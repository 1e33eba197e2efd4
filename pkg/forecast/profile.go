package forecast

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrRejectedObservation is returned by Update when an observation cannot be
// blended into a profile.
var ErrRejectedObservation = errors.New("observation rejected")

type bucket struct {
	mean    float64
	support float64
}

// profile is a table of hourly buckets, rows x 24.
type profile struct {
	rows    int
	buckets []bucket
}

func newProfile(rows int) profile {
	return profile{
		rows:    rows,
		buckets: make([]bucket, rows*24),
	}
}

func (p profile) at(row, hour int) bucket {
	return p.buckets[row*24+hour]
}

func (p profile) clone() profile {
	c := profile{rows: p.rows, buckets: make([]bucket, len(p.buckets))}
	copy(c.buckets, p.buckets)
	return c
}

func (p profile) populated() int {
	var n int
	for _, b := range p.buckets {
		if b.support > 0 {
			n++
		}
	}
	return n
}

// fill computes the mean of every group of values. values is indexed the same
// way as buckets.
func (p *profile) fill(values [][]float64) {
	for i, vs := range values {
		if len(vs) == 0 {
			p.buckets[i] = bucket{}
			continue
		}
		p.buckets[i] = bucket{
			mean:    stat.Mean(vs, nil),
			support: float64(len(vs)),
		}
	}
}

// observe blends x into a bucket with an exponential moving average. An
// empty bucket adopts the observation.
func (p *profile) observe(row, hour int, x, alpha float64) {
	b := &p.buckets[row*24+hour]
	if b.support == 0 {
		b.mean = x
	} else {
		b.mean = (1-alpha)*b.mean + alpha*x
	}
	b.support++
}

// shrink blends the bucket mean with the prior weighted by bucket support. It
// returns the value and the weight given to the bucket.
func shrink(b bucket, prior, k float64) (float64, float64) {
	if b.support <= 0 {
		return prior, 0
	}
	w := b.support / (b.support + k)
	if k <= 0 {
		w = 1
	}
	return w*b.mean + (1-w)*prior, w
}

// pointConfidence rises with the bucket weight and decays with the distance
// from the reference time.
func pointConfidence(weight, hoursAhead, decayHours float64) float64 {
	c := (0.2 + 0.8*weight) * math.Exp(-hoursAhead/decayHours)
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
