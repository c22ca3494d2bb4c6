package abstract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-github/types"
)

func planIDs(plan *Plan) []string {
	ids := []string{}
	for _, node := range plan.Order() {
		ids = append(ids, node.Stream.ID)
	}
	return ids
}

func TestNewPlan(t *testing.T) {
	driver := newMockDriver(newFakeUpstream())

	tests := []struct {
		name     string
		selected []string
		resume   string
		order    []string
		shadow   []string
		subtrees int
	}{
		{
			name:     "nothing selected",
			order:    []string{},
			subtrees: 0,
		},
		{
			name:     "parents precede children",
			selected: []string{"project_cards", "project_columns", "projects"},
			order:    []string{"projects", "project_columns", "project_cards"},
			subtrees: 1,
		},
		{
			name:     "unselected ancestors run in shadow",
			selected: []string{"project_cards"},
			order:    []string{"projects", "project_columns", "project_cards"},
			shadow:   []string{"projects", "project_columns"},
			subtrees: 1,
		},
		{
			name:     "unneeded children are pruned",
			selected: []string{"projects", "issues"},
			order:    []string{"issues", "projects"},
			subtrees: 2,
		},
		{
			name:     "resumed subtree goes first",
			selected: []string{"issues", "project_columns"},
			resume:   "project_columns",
			order:    []string{"projects", "project_columns", "issues"},
			shadow:   []string{"projects"},
			subtrees: 2,
		},
		{
			name:     "unknown resume stream keeps declaration order",
			selected: []string{"issues", "projects"},
			resume:   "releases",
			order:    []string{"issues", "projects"},
			subtrees: 2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			catalog := selectCatalog(t, driver, tc.selected...)
			plan, err := NewPlan(catalog, tc.resume)
			require.NoError(t, err)

			assert.Equal(t, tc.order, planIDs(plan))
			assert.Len(t, plan.Subtrees, tc.subtrees)

			shadow := []string{}
			for _, node := range plan.Order() {
				if node.Shadow {
					shadow = append(shadow, node.Stream.ID)
					assert.Empty(t, node.Fields)
				} else {
					assert.NotEmpty(t, node.Fields)
				}
			}
			if tc.shadow == nil {
				tc.shadow = []string{}
			}
			assert.Equal(t, tc.shadow, shadow)
		})
	}
}

func TestNewPlanDetectsCycles(t *testing.T) {
	schema := func() *types.TypeSchema { return types.NewTypeSchema().AddTypes("id", types.INT64) }
	descriptors := []*types.StreamDescriptor{
		{ID: "alpha", ReplicationMethod: types.FullTable, Parent: "gamma", KeyProperties: []string{"id"}, Schema: schema()},
		{ID: "beta", ReplicationMethod: types.FullTable, Parent: "alpha", KeyProperties: []string{"id"}, Schema: schema()},
		{ID: "gamma", ReplicationMethod: types.FullTable, Parent: "beta", KeyProperties: []string{"id"}, Schema: schema()},
	}
	catalog, err := types.NewCatalog(descriptors, nil)
	require.NoError(t, err)

	_, err = NewPlan(catalog, "")
	var cyclic *types.CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, []string{"alpha", "gamma", "beta", "alpha"}, cyclic.Cycle)
	assert.Equal(t, types.KindCyclicDependency, types.ErrorKind(err))
}

func TestPublishVars(t *testing.T) {
	driver := newMockDriver(newFakeUpstream())
	plan, err := NewPlan(selectCatalog(t, driver, "project_cards"), "")
	require.NoError(t, err)

	projects := plan.Subtrees[0]
	assert.Equal(t, map[string]string{"project_id": "id"}, projects.PublishVars())
	assert.Equal(t, map[string]string{"column_id": "id"}, projects.Children[0].PublishVars())
	assert.Empty(t, projects.Children[0].Children[0].PublishVars())
	assert.Equal(t, "projects(shadow) -> project_columns(shadow) -> project_cards", plan.String())
}
