package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
	"github.com/Mindburn-Labs/foundry/pkg/policy"
	"github.com/Mindburn-Labs/foundry/pkg/registry"
	"github.com/Mindburn-Labs/foundry/pkg/schema"
)

const admissionOrg = `
kind: OrganizationManifest
metadata:
  org_id: acme
spec:
  artifact_policy:
    allowed_types:
      - type_id: design_doc
      - type_id: source_patch
    denied_types:
      - type_id: production_secret
  skill_policy:
    default_rule: deny
  external_access:
    mcp: {}
    direct_network:
      policy: deny_all
  execution_limits:
    concurrency:
      max_active_jobs: 4
    rate_limits:
      max_job_starts_per_minute: 10
    cost_caps:
      currency: USD
      max_cost_per_job: 25.0
    timeouts:
      max_job_runtime_seconds: 3600
  agent_roles:
    - role_id: builder
      ref: agents/definitions/builder.yaml
    - role_id: reviewer
      ref: agents/definitions/reviewer.yaml
`

const admissionBuilder = `
kind: AgentDefinition
metadata:
  agent_id: builder
  role: builder
spec:
  authority:
    level: junior
  org_inclusion:
    mode: any
`

const admissionReviewer = `
kind: AgentDefinition
metadata:
  agent_id: reviewer
  role: reviewer
spec:
  authority:
    level: senior
  org_inclusion:
    mode: allowlist
    allow_org_ids: [acme]
`

func loadSnapshot(t *testing.T) *registry.Snapshot {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"orgs/acme.yaml":                   admissionOrg,
		"agents/definitions/builder.yaml":  admissionBuilder,
		"agents/definitions/reviewer.yaml": admissionReviewer,
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	validator, err := schema.Load("../../schemas")
	require.NoError(t, err)
	snap, err := registry.Load(registry.Config{
		OrgsDir:             filepath.Join(root, "orgs"),
		AgentDefinitionsDir: filepath.Join(root, "agents", "definitions"),
		SkillContractsDir:   filepath.Join(root, "skills", "contracts"),
	}, validator)
	require.NoError(t, err)
	return snap
}

func designDocArtifact() contracts.Document {
	return contracts.Document{
		"kind": "Artifact",
		"metadata": map[string]any{
			"artifact_id":   "art-001",
			"org_id":        "acme",
			"artifact_type": "design_doc",
		},
		"spec": map[string]any{
			"job_ref":     map[string]any{"job_id": "job-001"},
			"created_at":  "2026-08-24T09:30:00Z",
			"produced_by": map[string]any{"agent_id": "builder"},
		},
	}
}

func passingEvaluation() contracts.Document {
	return contracts.Document{
		"kind": "Evaluation",
		"metadata": map[string]any{
			"evaluation_id": "eval-001",
			"org_id":        "acme",
		},
		"spec": map[string]any{
			"job_ref": map[string]any{"job_id": "job-001"},
			"evaluator": map[string]any{
				"actor_type":      "agent",
				"actor_id":        "reviewer",
				"authority_level": "senior",
			},
			"outcome": map[string]any{
				"status":         "pass",
				"next_job_state": "completed",
			},
			"artifact_decisions": []any{
				map[string]any{
					"artifact_id":        "art-001",
					"decision":           "accept",
					"producing_agent_id": "builder",
				},
			},
		},
	}
}

func TestCheckArtifactAdmission_AcceptsAllowedArtifact(t *testing.T) {
	snap := loadSnapshot(t)
	assert.NoError(t, policy.CheckArtifactAdmission(designDocArtifact(), submittedJob(), snap))
}

func TestCheckArtifactAdmission_OrgMismatch(t *testing.T) {
	snap := loadSnapshot(t)
	artifact := designDocArtifact()
	artifact["metadata"].(map[string]any)["org_id"] = "other-org"
	err := policy.CheckArtifactAdmission(artifact, submittedJob(), snap)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "org_id must match")
}

func TestCheckArtifactAdmission_TerminalJobConflicts(t *testing.T) {
	snap := loadSnapshot(t)
	job := submittedJob()
	jobStatus(job)["state"] = "completed"
	err := policy.CheckArtifactAdmission(designDocArtifact(), job, snap)
	assert.True(t, fault.IsConflict(err))
}

func TestCheckArtifactAdmission_TypeMustBeOrgAllowed(t *testing.T) {
	snap := loadSnapshot(t)
	artifact := designDocArtifact()
	artifact["metadata"].(map[string]any)["artifact_type"] = "production_secret"
	err := policy.CheckArtifactAdmission(artifact, submittedJob(), snap)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "not allowed by org policy")
}

func TestCheckArtifactAdmission_ProducerMustBeIncluded(t *testing.T) {
	snap := loadSnapshot(t)
	artifact := designDocArtifact()
	artifact["spec"].(map[string]any)["produced_by"] = map[string]any{"agent_id": "intruder"}
	err := policy.CheckArtifactAdmission(artifact, submittedJob(), snap)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "not included in org")
}

func TestCheckArtifactAdmission_AnonymousProducerAllowed(t *testing.T) {
	snap := loadSnapshot(t)
	artifact := designDocArtifact()
	delete(artifact["spec"].(map[string]any), "produced_by")
	assert.NoError(t, policy.CheckArtifactAdmission(artifact, submittedJob(), snap))
}

func TestCheckEvaluationAdmission_AcceptsSeniorReviewer(t *testing.T) {
	snap := loadSnapshot(t)
	assert.NoError(t, policy.CheckEvaluationAdmission(passingEvaluation(), submittedJob(), snap))
}

func TestCheckEvaluationAdmission_OrgMismatch(t *testing.T) {
	snap := loadSnapshot(t)
	evaluation := passingEvaluation()
	evaluation["metadata"].(map[string]any)["org_id"] = "other-org"
	err := policy.CheckEvaluationAdmission(evaluation, submittedJob(), snap)
	assert.True(t, fault.IsPolicyViolation(err))
}

func TestCheckEvaluationAdmission_TerminalJobConflicts(t *testing.T) {
	snap := loadSnapshot(t)
	job := submittedJob()
	jobStatus(job)["state"] = "failed"
	err := policy.CheckEvaluationAdmission(passingEvaluation(), job, snap)
	assert.True(t, fault.IsConflict(err))
}

func TestCheckEvaluationAdmission_AuthorityMustMatchDefinition(t *testing.T) {
	snap := loadSnapshot(t)
	evaluation := passingEvaluation()
	evaluation["spec"].(map[string]any)["evaluator"].(map[string]any)["authority_level"] = "junior"
	err := policy.CheckEvaluationAdmission(evaluation, submittedJob(), snap)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "authority_level")
}

func TestCheckEvaluationAdmission_UnknownEvaluatorAgent(t *testing.T) {
	snap := loadSnapshot(t)
	evaluation := passingEvaluation()
	evaluation["spec"].(map[string]any)["evaluator"].(map[string]any)["actor_id"] = "ghost"
	err := policy.CheckEvaluationAdmission(evaluation, submittedJob(), snap)
	assert.Error(t, err)
}

func TestCheckEvaluationAdmission_SelfEvaluationProhibited(t *testing.T) {
	snap := loadSnapshot(t)
	evaluation := passingEvaluation()
	evaluation["spec"].(map[string]any)["evaluator"] = map[string]any{
		"actor_type":      "agent",
		"actor_id":        "builder",
		"authority_level": "junior",
	}
	err := policy.CheckEvaluationAdmission(evaluation, submittedJob(), snap)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "Self-evaluation")
}

func TestCheckEvaluationAdmission_HumanEvaluatorSkipsAgentChecks(t *testing.T) {
	snap := loadSnapshot(t)
	evaluation := passingEvaluation()
	evaluation["spec"].(map[string]any)["evaluator"] = map[string]any{
		"actor_type":      "human",
		"actor_id":        "ops@example.com",
		"authority_level": "senior",
	}
	assert.NoError(t, policy.CheckEvaluationAdmission(evaluation, submittedJob(), snap))
}
