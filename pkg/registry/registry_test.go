package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/foundry/pkg/fault"
	"github.com/Mindburn-Labs/foundry/pkg/registry"
	"github.com/Mindburn-Labs/foundry/pkg/schema"
)

const orgManifest = `
kind: OrganizationManifest
metadata:
  org_id: acme
spec:
  artifact_policy:
    allowed_types:
      - type_id: design_doc
  skill_policy:
    default_rule: deny
  external_access:
    mcp: {}
    direct_network:
      policy: deny_all
  execution_limits:
    concurrency:
      max_active_jobs: 2
    rate_limits:
      max_job_starts_per_minute: 5
    cost_caps:
      currency: USD
      max_cost_per_job: 10.0
    timeouts:
      max_job_runtime_seconds: 600
  agent_roles:
    - role_id: builder
      ref: agents/definitions/builder.yaml
`

const builderAgent = `
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

// writeTree lays out a registry repo in a temp dir and returns its config.
func writeTree(t *testing.T, files map[string]string) registry.Config {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return registry.Config{
		OrgsDir:             filepath.Join(root, "orgs"),
		AgentDefinitionsDir: filepath.Join(root, "agents", "definitions"),
		SkillContractsDir:   filepath.Join(root, "skills", "contracts"),
	}
}

func loadValidator(t *testing.T) *schema.Validator {
	t.Helper()
	v, err := schema.Load("../../schemas")
	require.NoError(t, err)
	return v
}

func TestLoad_ResolvesOrgAndAgents(t *testing.T) {
	cfg := writeTree(t, map[string]string{
		"orgs/acme.yaml":                     orgManifest,
		"agents/definitions/builder.yaml":    builderAgent,
		"agents/definitions/not-a-doc.txt":   "ignored",
		"skills/contracts/placeholder.yaml": `{kind: SkillContract, metadata: {skill_id: summarize, version: 1.0.0}, spec: {}}`,
	})
	snap, err := registry.Load(cfg, loadValidator(t))
	require.NoError(t, err)

	assert.True(t, snap.HasOrg("acme"))
	assert.False(t, snap.HasOrg("ghost"))

	agent, err := snap.Agent("builder")
	require.NoError(t, err)
	assert.Equal(t, "builder", agent.Role)

	_, ok := snap.Skill("summarize", "1.0.0")
	assert.True(t, ok)

	included, err := snap.IncludedAgentIDs("acme")
	require.NoError(t, err)
	assert.Contains(t, included, "builder")
}

func TestLoad_UnknownOrgIsPolicyViolation(t *testing.T) {
	cfg := writeTree(t, map[string]string{
		"orgs/acme.yaml":                  orgManifest,
		"agents/definitions/builder.yaml": builderAgent,
	})
	snap, err := registry.Load(cfg, loadValidator(t))
	require.NoError(t, err)

	_, err = snap.Org("ghost")
	assert.True(t, fault.IsPolicyViolation(err))
}

func TestLoad_DuplicateOrgIDFails(t *testing.T) {
	cfg := writeTree(t, map[string]string{
		"orgs/a.yaml":                     orgManifest,
		"orgs/b.yaml":                     orgManifest,
		"agents/definitions/builder.yaml": builderAgent,
	})
	_, err := registry.Load(cfg, loadValidator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate OrganizationManifest")
}

func TestLoad_RejectsExternalRefs(t *testing.T) {
	cases := map[string]string{
		"https":    "https://example.com/agent.yaml",
		"file":     "file:///etc/agent.yaml",
		"absolute": "/etc/agent.yaml",
		"escape":   "../outside/agent.yaml",
	}
	for name, ref := range cases {
		t.Run(name, func(t *testing.T) {
			manifest := `
kind: OrganizationManifest
metadata:
  org_id: acme
spec:
  artifact_policy:
    allowed_types: []
  skill_policy:
    default_rule: deny
  external_access:
    mcp: {}
    direct_network:
      policy: deny_all
  execution_limits:
    concurrency: {max_active_jobs: 1}
    rate_limits: {max_job_starts_per_minute: 1}
    cost_caps: {currency: USD, max_cost_per_job: 1.0}
    timeouts: {max_job_runtime_seconds: 60}
  agent_roles:
    - ref: "` + ref + `"
`
			cfg := writeTree(t, map[string]string{"orgs/acme.yaml": manifest})
			_, err := registry.Load(cfg, loadValidator(t))
			assert.Error(t, err)
		})
	}
}

func TestLoad_RoleIDMustMatchAgentRole(t *testing.T) {
	manifest := `
kind: OrganizationManifest
metadata:
  org_id: acme
spec:
  artifact_policy:
    allowed_types: []
  skill_policy:
    default_rule: deny
  external_access:
    mcp: {}
    direct_network:
      policy: deny_all
  execution_limits:
    concurrency: {max_active_jobs: 1}
    rate_limits: {max_job_starts_per_minute: 1}
    cost_caps: {currency: USD, max_cost_per_job: 1.0}
    timeouts: {max_job_runtime_seconds: 60}
  agent_roles:
    - role_id: reviewer
      ref: agents/definitions/builder.yaml
`
	cfg := writeTree(t, map[string]string{
		"orgs/acme.yaml":                  manifest,
		"agents/definitions/builder.yaml": builderAgent,
	})
	_, err := registry.Load(cfg, loadValidator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role_id")
}

func TestLoad_AllowlistInclusionEnforced(t *testing.T) {
	restricted := `
kind: AgentDefinition
metadata:
  agent_id: builder
  role: builder
spec:
  authority:
    level: junior
  org_inclusion:
    mode: allowlist
    allow_org_ids: [other-org]
`
	cfg := writeTree(t, map[string]string{
		"orgs/acme.yaml":                  orgManifest,
		"agents/definitions/builder.yaml": restricted,
	})
	_, err := registry.Load(cfg, loadValidator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_org_ids")
}

func TestLoad_MissingDirsAreEmptyNotFatal(t *testing.T) {
	cfg := registry.Config{
		OrgsDir:             filepath.Join(t.TempDir(), "orgs"),
		AgentDefinitionsDir: filepath.Join(t.TempDir(), "agents"),
	}
	snap, err := registry.Load(cfg, loadValidator(t))
	require.NoError(t, err)
	assert.False(t, snap.HasOrg("anyone"))
}
