package graph

import (
	"container/heap"

	"github.com/dukex/flowdef/pkg/models"
)

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}

// TopologicalOrder returns the tasks in dependency order. Ready tasks are emitted in declaration
// order. Tasks left over by a cycle are appended in declaration order so nothing is lost.
func TopologicalOrder(tasks []*models.TaskNode, relations []*models.DependencyEdge) []*models.TaskNode {
	index := make(map[int64]int, len(tasks))
	for i, task := range tasks {
		index[task.Code] = i
	}

	indegree := make([]int, len(tasks))
	outgoing := make([][]int, len(tasks))

	for _, edge := range relations {
		if edge.IsRoot() {
			continue
		}

		from, okFrom := index[edge.PreTaskCode]
		to, okTo := index[edge.PostTaskCode]

		if !okFrom || !okTo {
			continue
		}

		outgoing[from] = append(outgoing[from], to)
		indegree[to]++
	}

	ready := &indexHeap{}
	for i, degree := range indegree {
		if degree == 0 {
			heap.Push(ready, i)
		}
	}

	emitted := make([]bool, len(tasks))
	out := make([]*models.TaskNode, 0, len(tasks))

	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		emitted[i] = true
		out = append(out, tasks[i])

		for _, j := range outgoing[i] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	for i, task := range tasks {
		if !emitted[i] {
			out = append(out, task)
		}
	}

	return out
}
