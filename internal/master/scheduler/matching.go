package scheduler

// maxMatching 二分图最大匹配 (Kuhn 增广路)。
// adj[i] 是左侧第 i 个请求可以匹配的右侧资源下标；返回每个请求匹配到的资源下标，未匹配为 -1。
func maxMatching(adj [][]int, right int) []int {
	matchLeft := make([]int, len(adj))
	matchRight := make([]int, right)
	for i := range matchLeft {
		matchLeft[i] = -1
	}
	for j := range matchRight {
		matchRight[j] = -1
	}

	var augment func(u int, visited []bool) bool
	augment = func(u int, visited []bool) bool {
		for _, v := range adj[u] {
			if visited[v] {
				continue
			}
			visited[v] = true
			if matchRight[v] == -1 || augment(matchRight[v], visited) {
				matchLeft[u] = v
				matchRight[v] = u
				return true
			}
		}
		return false
	}

	for u := range adj {
		augment(u, make([]bool, right))
	}
	return matchLeft
}
