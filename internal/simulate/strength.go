package simulate

import (
	"math"
	"math/rand"
	"slices"
	"sort"
)

// assignStrengths gives each id a hidden strength spaced evenly over spread
// and centred on 1000. The order is a seeded shuffle, so it is independent of
// the ratings the items start with.
func assignStrengths(ids []string, seed int64, spread float64) map[string]float64 {
	order := slices.Clone(ids)
	slices.Sort(order)
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // simulation, not security
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	out := make(map[string]float64, len(order))
	if len(order) == 1 {
		out[order[0]] = 1000
		return out
	}
	step := spread / float64(len(order)-1)
	for i, id := range order {
		out[id] = 1000 - spread/2 + float64(i)*step
	}
	return out
}

// winProbability is the chance a voter prefers a over b.
func winProbability(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// ranks returns 1-based fractional ranks; tied values share their mean rank.
func ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })

	out := make([]float64, len(v))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		mean := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = mean
		}
		i = j + 1
	}
	return out
}

// spearman is the rank correlation of x and y. It is 0 when either side has
// no variance.
func spearman(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	rx, ry := ranks(x), ranks(y)
	var mx, my float64
	for i := range rx {
		mx += rx[i]
		my += ry[i]
	}
	n := float64(len(rx))
	mx /= n
	my /= n

	var cov, vx, vy float64
	for i := range rx {
		dx, dy := rx[i]-mx, ry[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
