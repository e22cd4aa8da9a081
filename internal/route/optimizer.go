// Package route orders the stops of one cluster into a short visiting sequence.
//
// Tours are open paths: when a depot is given the vehicle starts there, so the
// depot-to-first-stop leg is counted, but no return leg is added.
package route

import (
	"math"

	"field-route-service/internal/geo"
)

// MaxMultiStart bounds the nearest-neighbour restarts. Above it only one start is tried.
const MaxMultiStart = 200

const (
	improvementEpsilon = 1e-9
	maxTwoOptPasses    = 1000
)

// Result is an optimized visiting order. TotalDistance is in miles, rounded to 2 decimals.
type Result struct {
	Order         []string `json:"order"`
	TotalDistance float64  `json:"totalDistance"`
}

// Optimize runs multi-start nearest neighbour followed by 2-opt.
// The depot, if any, never appears in Order.
func Optimize(points []geo.Point, depot *geo.Point) Result {
	if r, ok := trivial(points, depot); ok {
		return r
	}
	m := newMatrix(points, depot)
	tour := m.twoOpt(m.bestNearestNeighbor())
	return m.result(points, tour)
}

// NearestNeighbor returns the best nearest-neighbour tour without local search.
func NearestNeighbor(points []geo.Point, depot *geo.Point) Result {
	if r, ok := trivial(points, depot); ok {
		return r
	}
	m := newMatrix(points, depot)
	return m.result(points, m.bestNearestNeighbor())
}

func trivial(points []geo.Point, depot *geo.Point) (Result, bool) {
	switch len(points) {
	case 0:
		return Result{Order: []string{}}, true
	case 1:
		r := Result{Order: []string{points[0].ID}}
		if depot != nil {
			r.TotalDistance = round2(depot.DistanceTo(points[0]))
		}
		return r, true
	}
	return Result{}, false
}

type matrix struct {
	n     int
	depot int // index into d, -1 without a depot
	d     [][]float64
}

func newMatrix(points []geo.Point, depot *geo.Point) *matrix {
	all := append([]geo.Point(nil), points...)
	m := &matrix{n: len(points), depot: -1}
	if depot != nil {
		m.depot = len(all)
		all = append(all, *depot)
	}

	m.d = make([][]float64, len(all))
	for i := range all {
		m.d[i] = make([]float64, len(all))
	}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			d := all[i].DistanceTo(all[j])
			m.d[i][j] = d
			m.d[j][i] = d
		}
	}
	return m
}

// leg is zero when either end is absent (no depot, or past the last stop).
func (m *matrix) leg(from, to int) float64 {
	if from < 0 || to < 0 {
		return 0
	}
	return m.d[from][to]
}

func (m *matrix) length(tour []int) float64 {
	total := m.leg(m.depot, tour[0])
	for i := 1; i < len(tour); i++ {
		total += m.d[tour[i-1]][tour[i]]
	}
	return total
}

func (m *matrix) nearestNeighbor(start int) []int {
	visited := make([]bool, m.n)
	tour := make([]int, 0, m.n)
	tour = append(tour, start)
	visited[start] = true

	for len(tour) < m.n {
		last := tour[len(tour)-1]
		next := -1
		for j := 0; j < m.n; j++ {
			if visited[j] {
				continue
			}
			if next < 0 || m.d[last][j] < m.d[last][next] {
				next = j
			}
		}
		visited[next] = true
		tour = append(tour, next)
	}
	return tour
}

func (m *matrix) bestNearestNeighbor() []int {
	starts := make([]int, 0, m.n)
	if m.n > MaxMultiStart {
		starts = append(starts, m.closestToDepot())
	} else {
		for i := 0; i < m.n; i++ {
			starts = append(starts, i)
		}
	}

	var (
		best     []int
		bestDist float64
	)
	for _, s := range starts {
		tour := m.nearestNeighbor(s)
		if d := m.length(tour); best == nil || d < bestDist {
			best, bestDist = tour, d
		}
	}
	return best
}

func (m *matrix) closestToDepot() int {
	if m.depot < 0 {
		return 0
	}
	best := 0
	for i := 1; i < m.n; i++ {
		if m.d[m.depot][i] < m.d[m.depot][best] {
			best = i
		}
	}
	return best
}

// twoOpt reverses tour[i..j] whenever that strictly shortens the path.
// Only the two boundary edges change because the matrix is symmetric.
func (m *matrix) twoOpt(tour []int) []int {
	n := len(tour)
	for pass := 0; pass < maxTwoOptPasses; pass++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				prev := m.depot
				if i > 0 {
					prev = tour[i-1]
				}
				next := -1
				if j < n-1 {
					next = tour[j+1]
				}

				before := m.leg(prev, tour[i]) + m.leg(tour[j], next)
				after := m.leg(prev, tour[j]) + m.leg(tour[i], next)
				if after < before-improvementEpsilon {
					reverse(tour[i : j+1])
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return tour
}

func (m *matrix) result(points []geo.Point, tour []int) Result {
	order := make([]string, len(tour))
	for i, idx := range tour {
		order[i] = points[idx].ID
	}
	return Result{Order: order, TotalDistance: round2(m.length(tour))}
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
