package graph

// DegreeCentrality computes the per-node importance label as the number
// of distinct neighbors divided by n-1. Directed edge lists that carry
// both directions of an undirected link count each neighbor once.
// Single-node graphs yield zeros.
func DegreeCentrality(n int, edges [][2]int) []float64 {
	out := make([]float64, n)
	if n <= 1 {
		return out
	}
	seen := make(map[[2]int]struct{}, len(edges))
	degree := make([]int, n)
	for _, e := range edges {
		a, b := e[0], e[1]
		if a == b || a < 0 || b < 0 || a >= n || b >= n {
			continue
		}
		if a > b {
			a, b = b, a
		}
		key := [2]int{a, b}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		degree[a]++
		degree[b]++
	}
	inv := 1 / float64(n-1)
	for i, d := range degree {
		out[i] = float64(d) * inv
	}
	return out
}
