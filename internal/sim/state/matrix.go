package state

import "sort"

// Matrix is a sparse weighted directed adjacency map: from -> to -> weight.
// A missing edge has weight 0.
type Matrix map[string]map[string]float64

func (m Matrix) Weight(from, to string) float64 {
	if m == nil {
		return 0
	}
	return m[from][to]
}

// Set upserts an edge. A zero weight removes it.
func (m Matrix) Set(from, to string, w float64) {
	if w == 0 {
		row := m[from]
		if row == nil {
			return
		}
		delete(row, to)
		if len(row) == 0 {
			delete(m, from)
		}
		return
	}
	row := m[from]
	if row == nil {
		row = map[string]float64{}
		m[from] = row
	}
	row[to] = w
}

// Targets returns the sorted targets of from with a non-zero weight.
func (m Matrix) Targets(from string) []string {
	row := m[from]
	out := make([]string, 0, len(row))
	for to, w := range row {
		if w != 0 {
			out = append(out, to)
		}
	}
	sort.Strings(out)
	return out
}

// RowSum sums the outgoing weights of from, skipping self loops.
func (m Matrix) RowSum(from string) float64 {
	var sum float64
	for _, to := range m.Targets(from) {
		if to == from {
			continue
		}
		sum += m[from][to]
	}
	return sum
}

// ColSum sums the incoming weights of to, skipping self loops.
func (m Matrix) ColSum(to string) float64 {
	froms := make([]string, 0, len(m))
	for from := range m {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	var sum float64
	for _, from := range froms {
		if from == to {
			continue
		}
		sum += m[from][to]
	}
	return sum
}

func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for from, row := range m {
		cp := make(map[string]float64, len(row))
		for to, w := range row {
			cp[to] = w
		}
		out[from] = cp
	}
	return out
}
