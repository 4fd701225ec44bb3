package tree_test

import (
	"testing"
	"time"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func instance(id, parent string, minute int) models.InstanceSummary {
	return models.InstanceSummary{ID: id, ParentID: parent, StartTime: base.Add(time.Duration(minute) * time.Minute)}
}

func ids(nodes []*models.TreeNode) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.Instance.ID)
	}

	return out
}

func TestBuild_LimitKeepsEarliestSiblings(t *testing.T) {
	t.Parallel()

	instances := []models.InstanceSummary{
		instance("root", "", 0),
		instance("c5", "root", 5),
		instance("c3", "root", 3),
		instance("c1", "root", 1),
		instance("c4", "root", 4),
		instance("c2", "root", 2),
	}

	roots := tree.Build(instances, 2)

	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0].Instance.ID)
	assert.Equal(t, []string{"c1", "c2"}, ids(roots[0].Children))
}

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		instances []models.InstanceSummary
		limit     int
		roots     []string
		children  map[string][]string
	}{
		{
			name:  "empty",
			limit: 10,
			roots: []string{},
		},
		{
			name: "unknown parent becomes root",
			instances: []models.InstanceSummary{
				instance("b", "missing", 2),
				instance("a", "", 1),
			},
			limit: 10,
			roots: []string{"a", "b"},
		},
		{
			name: "ties broken by id",
			instances: []models.InstanceSummary{
				instance("z", "", 1),
				instance("m", "", 1),
				instance("a", "", 1),
			},
			limit: 2,
			roots: []string{"a", "m"},
		},
		{
			name: "non positive limit uses default",
			instances: []models.InstanceSummary{
				instance("a", "", 1),
				instance("b", "", 2),
				instance("c", "", 3),
			},
			limit: 0,
			roots: []string{"a", "b", "c"},
		},
		{
			name: "limit applies per level",
			instances: []models.InstanceSummary{
				instance("r", "", 0),
				instance("a", "r", 1),
				instance("b", "r", 2),
				instance("c", "r", 3),
				instance("a1", "a", 4),
				instance("a2", "a", 5),
				instance("a3", "a", 6),
				instance("c1", "c", 7),
			},
			limit: 2,
			roots: []string{"r"},
			children: map[string][]string{
				"r": {"a", "b"},
				"a": {"a1", "a2"},
			},
		},
		{
			name: "limit counts every parent at a depth",
			instances: []models.InstanceSummary{
				instance("r", "", 0),
				instance("a", "r", 1),
				instance("b", "r", 2),
				instance("a1", "a", 3),
				instance("a2", "a", 4),
				instance("b1", "b", 5),
				instance("b2", "b", 6),
			},
			limit: 2,
			roots: []string{"r"},
			children: map[string][]string{
				"r": {"a", "b"},
				"a": {"a1", "a2"},
			},
		},
		{
			name: "earliest nodes at a depth win across parents",
			instances: []models.InstanceSummary{
				instance("r", "", 0),
				instance("a", "r", 1),
				instance("b", "r", 2),
				instance("a1", "a", 3),
				instance("b1", "b", 4),
				instance("a2", "a", 5),
				instance("b2", "b", 6),
			},
			limit: 2,
			roots: []string{"r"},
			children: map[string][]string{
				"r": {"a", "b"},
				"a": {"a1"},
				"b": {"b1"},
			},
		},
		{
			name: "duplicates keep first occurrence",
			instances: []models.InstanceSummary{
				instance("a", "", 1),
				instance("a", "", 0),
				instance("b", "a", 2),
			},
			limit: 10,
			roots: []string{"a"},
			children: map[string][]string{
				"a": {"b"},
			},
		},
		{
			name: "self parent is a root",
			instances: []models.InstanceSummary{
				instance("a", "a", 1),
			},
			limit: 10,
			roots: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			roots := tree.Build(tt.instances, tt.limit)
			assert.Equal(t, tt.roots, ids(roots))

			seen := make(map[string][]string)

			var walk func(nodes []*models.TreeNode)

			walk = func(nodes []*models.TreeNode) {
				for _, node := range nodes {
					if len(node.Children) > 0 {
						seen[node.Instance.ID] = ids(node.Children)
					}

					walk(node.Children)
				}
			}
			walk(roots)

			if tt.children == nil {
				assert.Empty(t, seen)
			} else {
				assert.Equal(t, tt.children, seen)
			}
		})
	}
}

func TestBuild_DefaultLimitCapsRoots(t *testing.T) {
	t.Parallel()

	instances := make([]models.InstanceSummary, 0, tree.DefaultLimit+5)
	for i := range tree.DefaultLimit + 5 {
		instances = append(instances, models.InstanceSummary{ID: time.Duration(i).String(), StartTime: base.Add(time.Duration(i) * time.Second)})
	}

	assert.Len(t, tree.Build(instances, -1), tree.DefaultLimit)
}
