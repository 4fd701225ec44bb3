// Package tree assembles run instances into a breadth-bounded ancestor/descendant tree.
package tree

import (
	"slices"

	"github.com/dukex/flowdef/pkg/models"
)

// DefaultLimit applies when the caller passes a non-positive limit.
const DefaultLimit = 100

// Build links instances to their parents and returns the roots. An instance is a root when its
// parent is empty or not among instances. Each depth is ordered by start time, then id, and only
// its first limit nodes are kept, counted across all parents at that depth. Instances reachable
// only through a dropped node are dropped with it. Duplicate ids keep their first occurrence.
func Build(instances []models.InstanceSummary, limit int) []*models.TreeNode {
	if limit <= 0 {
		limit = DefaultLimit
	}

	known := make(map[string]struct{}, len(instances))
	unique := make([]models.InstanceSummary, 0, len(instances))

	for _, instance := range instances {
		if _, seen := known[instance.ID]; seen {
			continue
		}

		known[instance.ID] = struct{}{}
		unique = append(unique, instance)
	}

	slices.SortStableFunc(unique, compare)

	children := make(map[string][]models.InstanceSummary)
	roots := make([]models.InstanceSummary, 0)

	for _, instance := range unique {
		_, hasParent := known[instance.ParentID]
		if instance.ParentID == "" || instance.ParentID == instance.ID || !hasParent {
			roots = append(roots, instance)

			continue
		}

		children[instance.ParentID] = append(children[instance.ParentID], instance)
	}

	visited := make(map[string]struct{}, len(unique))

	return expand(roots, children, limit, visited)
}

// expand walks level by level so the visited set cuts parent cycles at their shallowest point.
// The limit counts every node emitted at one depth, whichever parent it hangs under.
func expand(roots []models.InstanceSummary, children map[string][]models.InstanceSummary, limit int, visited map[string]struct{}) []*models.TreeNode {
	type candidate struct {
		parent   *models.TreeNode
		instance models.InstanceSummary
	}

	level := make([]candidate, 0, len(roots))
	for _, root := range roots {
		level = append(level, candidate{instance: root})
	}

	out := make([]*models.TreeNode, 0, min(len(roots), limit))

	for len(level) > 0 {
		slices.SortStableFunc(level, func(a, b candidate) int {
			return compare(a.instance, b.instance)
		})

		next := make([]candidate, 0)
		emitted := 0

		for _, c := range level {
			if emitted == limit {
				break
			}

			if _, seen := visited[c.instance.ID]; seen {
				continue
			}

			visited[c.instance.ID] = struct{}{}
			emitted++

			node := &models.TreeNode{Instance: c.instance}
			if c.parent == nil {
				out = append(out, node)
			} else {
				c.parent.Children = append(c.parent.Children, node)
			}

			for _, kid := range children[c.instance.ID] {
				next = append(next, candidate{parent: node, instance: kid})
			}
		}

		level = next
	}

	return out
}

func compare(a, b models.InstanceSummary) int {
	if c := a.StartTime.Compare(b.StartTime); c != 0 {
		return c
	}

	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}
