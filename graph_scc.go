package director

// components labels the strongly connected components of adj with Kosaraju's
// algorithm, iteratively so long dependency chains do not grow the stack.
// comp[n] is the component of node n. cyclic[c] is true when component c holds
// more than one node or a node with an edge to itself.
func components(adj [][]int) (comp []int, cyclic []bool) {
	n := len(adj)
	visited := make([]bool, n)
	finished := make([]int, 0, n)

	type frame struct {
		node int
		next int
	}
	var stack []frame

	for root := 0; root < n; root++ {
		if visited[root] {
			continue
		}
		visited[root] = true
		stack = append(stack[:0], frame{node: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(adj[top.node]) {
				to := adj[top.node][top.next]
				top.next++
				if !visited[to] {
					visited[to] = true
					stack = append(stack, frame{node: to})
				}
				continue
			}
			finished = append(finished, top.node)
			stack = stack[:len(stack)-1]
		}
	}

	radj := make([][]int, n)
	for from, tos := range adj {
		for _, to := range tos {
			radj[to] = append(radj[to], from)
		}
	}

	comp = make([]int, n)
	for i := range comp {
		comp[i] = -1
	}
	var sizes []int
	var work []int
	for i := len(finished) - 1; i >= 0; i-- {
		root := finished[i]
		if comp[root] != -1 {
			continue
		}
		c := len(sizes)
		sizes = append(sizes, 0)
		comp[root] = c
		work = append(work[:0], root)
		for len(work) > 0 {
			v := work[len(work)-1]
			work = work[:len(work)-1]
			sizes[c]++
			for _, u := range radj[v] {
				if comp[u] == -1 {
					comp[u] = c
					work = append(work, u)
				}
			}
		}
	}

	cyclic = make([]bool, len(sizes))
	for c, size := range sizes {
		cyclic[c] = size > 1
	}
	for from, tos := range adj {
		for _, to := range tos {
			if to == from {
				cyclic[comp[from]] = true
			}
		}
	}
	return comp, cyclic
}

// longestPaths computes 1 + the longest path below every included node of an
// acyclic adj. Excluded nodes get DepthUnresolved and are never followed.
func longestPaths(adj [][]int, include []bool) []int {
	n := len(adj)
	depth := make([]int, n)
	for i := range depth {
		depth[i] = DepthUnresolved
	}
	done := make([]bool, n)

	type frame struct {
		node int
		next int
		max  int
	}
	var stack []frame

	for root := 0; root < n; root++ {
		if !include[root] || done[root] {
			continue
		}
		stack = append(stack[:0], frame{node: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(adj[top.node]) {
				to := adj[top.node][top.next]
				top.next++
				if !include[to] {
					continue
				}
				if done[to] {
					if depth[to] > top.max {
						top.max = depth[to]
					}
					continue
				}
				stack = append(stack, frame{node: to})
				continue
			}

			node, d := top.node, top.max+1
			stack = stack[:len(stack)-1]
			depth[node] = d
			done[node] = true
			if len(stack) > 0 {
				parent := &stack[len(stack)-1]
				if d > parent.max {
					parent.max = d
				}
			}
		}
	}
	return depth
}
