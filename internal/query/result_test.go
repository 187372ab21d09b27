package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_Bind(t *testing.T) {
	t.Parallel()
	plan := pathPlan()
	plan.EdgeIndex = map[string]int{"e": 0}

	b := plan.Bind(Tuple{Vertices: []int32{4, 7}, Edges: []int64{12}})
	assert.Equal(t, map[string]int32{"a": 4, "b": 7}, b.Vertices)
	assert.Equal(t, map[string]int64{"e": 12}, b.Edges)

	// Count-mode tuples carry no edge ids.
	b = plan.Bind(Tuple{Vertices: []int32{4, 7}})
	assert.Nil(t, b.Edges)

	assert.Equal(t, []string{"a", "b"}, plan.Variables())
}

func TestExecutor_Run(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := NewExecutor(lineGraph(t, 4), nil, nil)

	plan := pathPlan()
	plan.EdgeIndex = map[string]int{"e": 0}
	res, err := exec.Run(ctx, plan, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, res.QueryID)
	assert.Equal(t, "match", res.Mode)
	assert.Equal(t, int64(3), res.Count)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, Binding{
		Vertices: map[string]int32{"a": 1, "b": 2},
		Edges:    map[string]int64{"e": 1},
	}, res.Matches[1])
	assert.False(t, res.Limited)

	plan.Mode = ModeCount
	res, err = exec.Run(ctx, plan, 4)
	require.NoError(t, err)
	assert.Equal(t, "count", res.Mode)
	assert.Equal(t, int64(3), res.Count)
	assert.Empty(t, res.Matches)

	plan.Mode = ModeMatch
	plan.Limit = 2
	res, err = exec.Run(ctx, plan, 1)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
	assert.True(t, res.Limited)

	_, err = exec.Run(ctx, &Plan{Stages: [][]Rule{{}}}, 1)
	assert.Error(t, err)
}
