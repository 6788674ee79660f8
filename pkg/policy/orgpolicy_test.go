package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
	"github.com/Mindburn-Labs/foundry/pkg/policy"
)

func acmeOrg() contracts.Document {
	return contracts.Document{
		"kind": "OrganizationManifest",
		"metadata": map[string]any{
			"org_id": "acme",
		},
		"spec": map[string]any{
			"artifact_policy": map[string]any{
				"allowed_types": []any{
					map[string]any{"type_id": "design_doc"},
					map[string]any{"type_id": "source_patch"},
				},
				"denied_types": []any{
					map[string]any{"type_id": "production_secret"},
				},
			},
			"skill_policy": map[string]any{
				"default_rule": "deny",
				"allow": map[string]any{
					"skill_ids":        []any{"summarize", "code_review"},
					"skill_categories": []any{"analysis"},
				},
				"deny": map[string]any{
					"skill_ids":        []any{"shell_exec"},
					"skill_categories": []any{"destructive"},
				},
			},
			"external_access": map[string]any{
				"mcp": map[string]any{
					"allowed": []any{
						map[string]any{
							"mcp_id":         "docs-search",
							"ref":            "mcp/docs-search.yaml",
							"allowed_scopes": []any{"read", "list"},
						},
					},
				},
				"direct_network": map[string]any{
					"policy": "allowlist",
					"allowlist": map[string]any{
						"domains":  []any{"api.example.com"},
						"urls":     []any{"https://api.example.com/v1"},
						"ip_cidrs": []any{"10.0.0.0/8"},
					},
					"denylist": map[string]any{
						"domains": []any{"internal.example.com"},
					},
				},
			},
			"execution_limits": map[string]any{
				"concurrency": map[string]any{"max_active_jobs": float64(4)},
				"rate_limits": map[string]any{"max_job_starts_per_minute": float64(10)},
				"cost_caps":   map[string]any{"currency": "USD", "max_cost_per_job": 25.0},
				"timeouts":    map[string]any{"max_job_runtime_seconds": float64(3600)},
			},
			"agent_roles": []any{},
		},
	}
}

func jobSnapshot(job contracts.Document) map[string]any {
	return job["spec"].(map[string]any)["permissions_snapshot"].(map[string]any)
}

func jobSkills(job contracts.Document) map[string]any {
	return jobSnapshot(job)["skills"].(map[string]any)
}

func TestCheckJobWithinOrgPolicy_AcceptsConformingJob(t *testing.T) {
	assert.NoError(t, policy.CheckJobWithinOrgPolicy(submittedJob(), acmeOrg()))
}

func TestCheckJobWithinOrgPolicy_DeniedArtifactTypeWins(t *testing.T) {
	job := submittedJob()
	job["spec"].(map[string]any)["required_artifacts"] = []any{
		map[string]any{"artifact_type": "production_secret"},
	}
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "explicitly denied")
}

func TestCheckJobWithinOrgPolicy_UnlistedArtifactTypeRejected(t *testing.T) {
	job := submittedJob()
	job["spec"].(map[string]any)["required_artifacts"] = []any{
		map[string]any{"artifact_type": "video_render"},
	}
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "not allowed")
}

func TestCheckJobWithinOrgPolicy_SkillDenyBeatsAllow(t *testing.T) {
	org := acmeOrg()
	// shell_exec is in both lists; deny must win.
	skillPolicy := org["spec"].(map[string]any)["skill_policy"].(map[string]any)
	skillPolicy["allow"].(map[string]any)["skill_ids"] = []any{"summarize", "shell_exec"}

	job := submittedJob()
	jobSkills(job)["allowed_skill_ids"] = []any{"shell_exec"}

	err := policy.CheckJobWithinOrgPolicy(job, org)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "denied skill_id")
}

func TestCheckJobWithinOrgPolicy_SkillDefaultRuleDecides(t *testing.T) {
	job := submittedJob()
	jobSkills(job)["allowed_skill_ids"] = []any{"translate"}

	// default deny refuses an unlisted skill.
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	assert.True(t, fault.IsPolicyViolation(err))

	// default allow admits it.
	org := acmeOrg()
	org["spec"].(map[string]any)["skill_policy"].(map[string]any)["default_rule"] = "allow"
	assert.NoError(t, policy.CheckJobWithinOrgPolicy(job, org))
}

func TestCheckJobWithinOrgPolicy_SkillCategoryCheckedSeparately(t *testing.T) {
	job := submittedJob()
	jobSkills(job)["allowed_skill_categories"] = []any{"destructive"}
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "skill_category")
}

func TestCheckJobWithinOrgPolicy_UnknownMCPRejected(t *testing.T) {
	job := submittedJob()
	jobSnapshot(job)["mcp"].(map[string]any)["allowed"] = []any{
		map[string]any{"mcp_id": "web-browse", "ref": "mcp/web-browse.yaml", "allowed_scopes": []any{"read"}},
	}
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "web-browse")
}

func TestCheckJobWithinOrgPolicy_MCPRefMustMatchExactly(t *testing.T) {
	job := submittedJob()
	jobSnapshot(job)["mcp"].(map[string]any)["allowed"] = []any{
		map[string]any{"mcp_id": "docs-search", "ref": "mcp/other.yaml", "allowed_scopes": []any{"read"}},
	}
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "ref does not match")
}

func TestCheckJobWithinOrgPolicy_MCPScopesMustBeSubset(t *testing.T) {
	// Scoped org access requires the job to declare scopes at all.
	job := submittedJob()
	jobSnapshot(job)["mcp"].(map[string]any)["allowed"] = []any{
		map[string]any{"mcp_id": "docs-search", "ref": "mcp/docs-search.yaml", "allowed_scopes": []any{}},
	}
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "must declare allowed_scopes")

	// And the declared scopes may not exceed the org's.
	job = submittedJob()
	jobSnapshot(job)["mcp"].(map[string]any)["allowed"] = []any{
		map[string]any{"mcp_id": "docs-search", "ref": "mcp/docs-search.yaml", "allowed_scopes": []any{"read", "write"}},
	}
	err = policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "exceed org allowed_scopes")
}

func TestCheckJobWithinOrgPolicy_DenyAllNetworkForcesDenyAll(t *testing.T) {
	org := acmeOrg()
	org["spec"].(map[string]any)["external_access"].(map[string]any)["direct_network"] = map[string]any{
		"policy": "deny_all",
	}

	job := submittedJob()
	jobSnapshot(job)["direct_external_network"] = map[string]any{
		"policy":    "allowlist",
		"allowlist": map[string]any{"domains": []any{"api.example.com"}},
	}
	err := policy.CheckJobWithinOrgPolicy(job, org)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "deny_all")
}

func TestCheckJobWithinOrgPolicy_NetworkAllowlistSubset(t *testing.T) {
	job := submittedJob()
	jobSnapshot(job)["direct_external_network"] = map[string]any{
		"policy": "allowlist",
		"allowlist": map[string]any{
			"domains": []any{"api.example.com"},
			"urls":    []any{"https://api.example.com/v1"},
		},
	}
	assert.NoError(t, policy.CheckJobWithinOrgPolicy(job, acmeOrg()))

	jobSnapshot(job)["direct_external_network"].(map[string]any)["allowlist"].(map[string]any)["domains"] = []any{"evil.example.com"}
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "exceeds org allowlist")
}

func TestCheckJobWithinOrgPolicy_NetworkDenylistDisjoint(t *testing.T) {
	org := acmeOrg()
	allowlist := org["spec"].(map[string]any)["external_access"].(map[string]any)["direct_network"].(map[string]any)["allowlist"].(map[string]any)
	// The entry appears in both org lists; the job may still not use it.
	allowlist["domains"] = []any{"api.example.com", "internal.example.com"}

	job := submittedJob()
	jobSnapshot(job)["direct_external_network"] = map[string]any{
		"policy":    "allowlist",
		"allowlist": map[string]any{"domains": []any{"internal.example.com"}},
	}
	err := policy.CheckJobWithinOrgPolicy(job, org)
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "org-denied")
}

func TestCheckJobWithinOrgPolicy_CostCurrencyAndCapVsOrg(t *testing.T) {
	job := submittedJob()
	jobLimits(job)["cost_cap"].(map[string]any)["currency"] = "EUR"
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "currency")

	job = submittedJob()
	jobLimits(job)["cost_cap"].(map[string]any)["max_cost"] = 25.5
	err = policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "max_cost_per_job")

	// Equal to the org cap is allowed.
	job = submittedJob()
	jobLimits(job)["cost_cap"].(map[string]any)["max_cost"] = 25.0
	assert.NoError(t, policy.CheckJobWithinOrgPolicy(job, acmeOrg()))
}

func TestCheckJobWithinOrgPolicy_RuntimeVsOrgTimeout(t *testing.T) {
	job := submittedJob()
	jobLimits(job)["max_runtime_seconds"] = float64(3601)
	err := policy.CheckJobWithinOrgPolicy(job, acmeOrg())
	require.True(t, fault.IsPolicyViolation(err))
	assert.Contains(t, err.Error(), "max_job_runtime_seconds")

	job = submittedJob()
	jobLimits(job)["max_runtime_seconds"] = float64(3600)
	assert.NoError(t, policy.CheckJobWithinOrgPolicy(job, acmeOrg()))
}
