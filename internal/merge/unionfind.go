package merge

// unionFind coalesces candidate pairs into maximal clusters over record ids.
// Order-independent: however pairs arrive, records connected through any
// chain of candidates end up in one set, so no record lands in two groups.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}}
}

func (u *unionFind) find(id string) string {
	root, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		return id
	}
	if root == id {
		return id
	}
	top := u.find(root)
	u.parent[id] = top // path compression
	return top
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// sets returns root -> member ids for every id ever seen.
func (u *unionFind) sets() map[string][]string {
	out := map[string][]string{}
	for id := range u.parent {
		root := u.find(id)
		out[root] = append(out[root], id)
	}
	return out
}
