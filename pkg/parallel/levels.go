// Package parallel runs fan-out work on a bounded set of goroutines.
package parallel

import (
	"slices"
	"sync"
)

// ChildrenFunc returns the children of id in the tree being walked
type ChildrenFunc func(id int64) []int64

// Levels walks a tree breadth-first from roots and returns the ids of each
// depth in ascending order. Each level is split into chunks that run on the
// pool. Ids already seen are skipped, so cycles in bad data terminate.
func Levels(pool *WorkerPool, roots []int64, children ChildrenFunc, maxDepth int) [][]int64 {
	if len(roots) == 0 {
		return nil
	}

	visited := &sync.Map{}
	current := make([]int64, 0, len(roots))
	for _, id := range roots {
		if _, seen := visited.LoadOrStore(id, true); !seen {
			current = append(current, id)
		}
	}
	slices.Sort(current)

	var levels [][]int64
	for depth := 0; len(current) > 0 && (maxDepth <= 0 || depth < maxDepth); depth++ {
		levels = append(levels, current)

		next := &sync.Map{}
		var levelWg sync.WaitGroup
		for _, chunk := range chunks(current, pool.Workers()) {
			levelWg.Add(1)
			task := func() {
				defer levelWg.Done()
				for _, id := range chunk {
					for _, c := range children(id) {
						if _, seen := visited.LoadOrStore(c, true); !seen {
							next.Store(c, true)
						}
					}
				}
			}
			if !pool.Submit(task) {
				task()
			}
		}
		levelWg.Wait()

		current = current[:0:0]
		next.Range(func(key, _ any) bool {
			current = append(current, key.(int64))
			return true
		})
		slices.Sort(current)
	}
	return levels
}

func chunks(ids []int64, workers int) [][]int64 {
	if workers <= 0 {
		workers = 1
	}
	// int64 keeps the ceiling division from overflowing
	size := int((int64(len(ids)) + int64(workers) - 1) / int64(workers))
	if size < 1 {
		size = 1
	}
	var out [][]int64
	for i := 0; i < len(ids); i += size {
		out = append(out, ids[i:min(i+size, len(ids))])
	}
	return out
}
