// Package cluster groups geocoded stops into proximity clusters for route planning.
package cluster

import "field-route-service/internal/geo"

// Options tunes DBSCAN. Distances are in miles.
type Options struct {
	// Epsilon is the neighbour radius.
	Epsilon float64
	// MinPoints is the neighbourhood size (excluding the point itself) needed to seed a cluster.
	MinPoints int
	// MaxRadius caps the spread of every emitted cluster. Zero disables the cap.
	MaxRadius float64
}

const (
	unvisited = iota
	noise
	clustered
)

// DBSCAN partitions points into density-connected clusters. Points that no
// cluster absorbs are returned as single-element clusters, so the union of the
// result is always exactly the input.
func DBSCAN(points []geo.Point, opts Options) [][]geo.Point {
	if len(points) == 0 {
		return nil
	}
	minPts := opts.MinPoints
	if minPts < 1 {
		minPts = 1
	}

	state := make([]int, len(points))
	var groups [][]int

	for i := range points {
		if state[i] != unvisited {
			continue
		}

		neighbors := regionQuery(points, i, opts.Epsilon)
		if len(neighbors) < minPts {
			state[i] = noise
			continue
		}

		members := []int{i}
		state[i] = clustered
		queued := make(map[int]bool, len(neighbors))
		queue := make([]int, 0, len(neighbors))
		for _, n := range neighbors {
			queued[n] = true
			queue = append(queue, n)
		}

		for k := 0; k < len(queue); k++ {
			q := queue[k]
			switch state[q] {
			case clustered:
				continue
			case noise:
				// border point reached by expansion
				state[q] = clustered
				members = append(members, q)
				continue
			}

			state[q] = clustered
			members = append(members, q)

			qNeighbors := regionQuery(points, q, opts.Epsilon)
			if len(qNeighbors) < minPts {
				continue
			}
			for _, n := range qNeighbors {
				if !queued[n] && state[n] != clustered {
					queued[n] = true
					queue = append(queue, n)
				}
			}
		}

		groups = append(groups, members)
	}

	for i, s := range state {
		if s == noise {
			groups = append(groups, []int{i})
		}
	}

	out := make([][]geo.Point, 0, len(groups))
	for _, g := range groups {
		c := make([]geo.Point, len(g))
		for j, idx := range g {
			c[j] = points[idx]
		}
		if opts.MaxRadius > 0 {
			out = append(out, splitByRadius(c, opts.MaxRadius)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func regionQuery(points []geo.Point, i int, eps float64) []int {
	var out []int
	for j := range points {
		if j == i {
			continue
		}
		if points[i].DistanceTo(points[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// Spread is the largest pairwise distance within points.
func Spread(points []geo.Point) float64 {
	_, _, d := farthestPair(points)
	return d
}

// splitByRadius bisects a cluster around its two farthest points until every
// part has a spread of at most maxRadius.
func splitByRadius(points []geo.Point, maxRadius float64) [][]geo.Point {
	a, b, spread := farthestPair(points)
	if spread <= maxRadius {
		return [][]geo.Point{points}
	}

	seedA, seedB := points[a], points[b]
	var left, right []geo.Point
	for i, p := range points {
		switch {
		case i == a:
			left = append(left, p)
		case i == b:
			right = append(right, p)
		case p.DistanceTo(seedA) <= p.DistanceTo(seedB):
			left = append(left, p)
		default:
			right = append(right, p)
		}
	}

	return append(splitByRadius(left, maxRadius), splitByRadius(right, maxRadius)...)
}

func farthestPair(points []geo.Point) (int, int, float64) {
	var (
		bi, bj int
		best   float64
	)
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if d := points[i].DistanceTo(points[j]); d > best {
				bi, bj, best = i, j, d
			}
		}
	}
	return bi, bj, best
}
