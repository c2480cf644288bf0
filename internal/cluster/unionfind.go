package cluster

// UnionFind is a disjoint-set forest with path compression and union by rank.
//
// Elements are dense integer labels 0..n-1. The zero value is not usable;
// construct with NewUnionFind.
type UnionFind struct {
	parent []int
	rank   []int
}

// NewUnionFind creates a forest of n singleton sets labelled 0 through n-1.
func NewUnionFind(n int) *UnionFind {
	parent := make([]int, n)
	rank := make([]int, n)

	for i := 0; i < n; i++ {
		parent[i] = i
	}

	return &UnionFind{parent: parent, rank: rank}
}

// Find returns the root of the set containing x, compressing the path so
// later lookups are near constant time.
func (u *UnionFind) Find(x int) int {
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}

	for u.parent[x] != root {
		u.parent[x], x = root, u.parent[x]
	}

	return root
}

// Union merges the sets containing x and y. The shallower tree is attached
// under the deeper one to keep find paths short.
func (u *UnionFind) Union(x, y int) {
	rx, ry := u.Find(x), u.Find(y)
	if rx == ry {
		return
	}

	if u.rank[rx] < u.rank[ry] {
		rx, ry = ry, rx
	}

	u.parent[ry] = rx
	if u.rank[rx] == u.rank[ry] {
		u.rank[rx]++
	}
}
