package graph

// reachable reports whether target can be reached from start by following
// next. The walk is an iterative DFS with one visited set for the whole pass,
// so diamonds are expanded once and deep chains cannot overflow the stack.
func reachable(start, target string, next func(string) []string) bool {
	if start == target {
		return true
	}
	visited := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next(id) {
			if n == target {
				return true
			}
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			stack = append(stack, n)
		}
	}
	return false
}

// collect returns every id reachable from start (excluding start) in
// breadth-first order.
func collect(start string, next func(string) []string) []string {
	visited := map[string]struct{}{start: {}}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range next(id) {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			out = append(out, n)
			queue = append(queue, n)
		}
	}
	return out
}
