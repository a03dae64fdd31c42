package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), map[string]interface{}{
		"flow_id":    "f1",
		"task_count": 3,
		"process":    "sequential",
	})
	require.NoError(t, err)
	assert.Equal(t, "allow", decision)

	decision, err = engine.Evaluate(context.Background(), map[string]interface{}{
		"flow_id":    "f1",
		"task_count": 0,
		"process":    "sequential",
	})
	require.NoError(t, err)
	assert.Equal(t, "block", decision)
}

func TestCustomPolicy(t *testing.T) {
	const content = `
package run_policy

default decision = "allow"

decision = "block" {
	input.process == "hierarchical"
}
`
	engine, err := NewEngine(context.Background(), content)
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), map[string]interface{}{"process": "hierarchical"})
	require.NoError(t, err)
	assert.Equal(t, "block", decision)
}

func TestBrokenPolicyFailsPrepare(t *testing.T) {
	_, err := NewEngine(context.Background(), "this is not rego")
	assert.Error(t, err)
}
