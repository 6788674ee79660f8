package contracts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
)

func sampleDoc() contracts.Document {
	return contracts.Document{
		"kind": "JobContract",
		"metadata": map[string]any{
			"job_id": "job-001",
			"org_id": "acme",
		},
		"spec": map[string]any{
			"execution_limits": map[string]any{
				"max_iterations": float64(10),
				"cost_cap": map[string]any{
					"currency": "USD",
					"max_cost": 5.5,
				},
			},
			"required_artifacts": []any{
				map[string]any{"artifact_type": "design_doc"},
			},
		},
	}
}

func TestGet_WalksNestedPaths(t *testing.T) {
	doc := sampleDoc()

	v, ok := contracts.Get(doc, "metadata", "job_id")
	require.True(t, ok)
	assert.Equal(t, "job-001", v)

	_, ok = contracts.Get(doc, "metadata", "missing")
	assert.False(t, ok)

	// Traversing through a scalar is a miss, not a panic.
	_, ok = contracts.Get(doc, "kind", "anything")
	assert.False(t, ok)
}

func TestGetString_ErrorNamesPath(t *testing.T) {
	doc := sampleDoc()

	_, err := contracts.GetString(doc, "spec", "timestamps", "created_at")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec.timestamps.created_at")

	_, err = contracts.GetString(doc, "spec", "execution_limits", "max_iterations")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string")
}

func TestGetInt_AcceptsJSONAndYAMLNumbers(t *testing.T) {
	doc := contracts.Document{
		"json_number": float64(42),
		"yaml_number": 42,
		"wide":        int64(42),
	}
	for _, key := range []string{"json_number", "yaml_number", "wide"} {
		n, err := contracts.GetInt(doc, key)
		require.NoError(t, err, key)
		assert.Equal(t, int64(42), n, key)
	}
}

func TestGetSlice_MissingPathIsEmpty(t *testing.T) {
	doc := sampleDoc()

	items, err := contracts.GetSlice(doc, "spec", "required_artifacts")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = contracts.GetSlice(doc, "spec", "optional_list")
	require.NoError(t, err)
	assert.Nil(t, items)

	_, err = contracts.GetSlice(doc, "kind")
	assert.Error(t, err)
}

func TestDeepCopy_IsIndependent(t *testing.T) {
	doc := sampleDoc()
	copied := contracts.DeepCopy(doc)

	status := copied["metadata"].(map[string]any)
	status["job_id"] = "mutated"

	original, err := contracts.GetString(doc, "metadata", "job_id")
	require.NoError(t, err)
	assert.Equal(t, "job-001", original)
}

func TestNormalizeJSON_ShapesNumbers(t *testing.T) {
	doc := contracts.Document{
		"count": 7, // YAML decoder shape
		"nested": map[string]any{
			"ratio": 0.5,
		},
	}
	normalized, err := contracts.NormalizeJSON(doc)
	require.NoError(t, err)
	assert.Equal(t, float64(7), normalized["count"])
}

func TestKind(t *testing.T) {
	assert.Equal(t, "JobContract", contracts.Kind(sampleDoc()))
	assert.Equal(t, "", contracts.Kind(contracts.Document{}))
}

func TestIsTerminalState(t *testing.T) {
	for _, state := range []string{contracts.StateCompleted, contracts.StateFailed, contracts.StateExpired} {
		assert.True(t, contracts.IsTerminalState(state), state)
	}
	for _, state := range []string{contracts.StateCreated, contracts.StateRunning, contracts.StateWaiting, ""} {
		assert.False(t, contracts.IsTerminalState(state), state)
	}
}

func TestJobView_Projections(t *testing.T) {
	job := contracts.Document{
		"kind": "JobContract",
		"metadata": map[string]any{
			"job_id": "job-001",
			"org_id": "acme",
		},
		"spec": map[string]any{
			"required_artifacts": []any{
				map[string]any{"artifact_type": "design_doc"},
				map[string]any{"artifact_type": "test_report"},
			},
			"status": map[string]any{"state": "created"},
		},
	}
	view := contracts.Job(job)

	state, err := view.State()
	require.NoError(t, err)
	assert.Equal(t, "created", state)

	types, err := view.RequiredArtifactTypes()
	require.NoError(t, err)
	assert.Equal(t, []string{"design_doc", "test_report"}, types)
}
