package contracts

import "time"

// Job lifecycle states.
const (
	StateCreated   = "created"
	StateRunning   = "running"
	StateWaiting   = "waiting"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateExpired   = "expired"
)

// IsTerminalState reports whether state is absorbing.
func IsTerminalState(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// JobView projects the fields of a JobContract the control plane reads.
// It does not own the document.
type JobView struct {
	doc Document
}

// Job wraps a JobContract document.
func Job(doc Document) JobView { return JobView{doc: doc} }

func (j JobView) Doc() Document { return j.doc }

func (j JobView) JobID() (string, error) {
	return GetString(j.doc, "metadata", "job_id")
}

func (j JobView) OrgID() (string, error) {
	return GetString(j.doc, "metadata", "org_id")
}

func (j JobView) State() (string, error) {
	return GetString(j.doc, "spec", "status", "state")
}

// Status returns the mutable spec.status subtree.
func (j JobView) Status() (map[string]any, error) {
	return GetMap(j.doc, "spec", "status")
}

func (j JobView) CreatedAt() (time.Time, error) {
	s, err := GetString(j.doc, "spec", "timestamps", "created_at")
	if err != nil {
		return time.Time{}, err
	}
	return ParseTimestamp(s)
}

func (j JobView) ExpiresAt() (time.Time, error) {
	s, err := GetString(j.doc, "spec", "timestamps", "expires_at")
	if err != nil {
		return time.Time{}, err
	}
	return ParseTimestamp(s)
}

func (j JobView) MaxIterations() (int64, error) {
	return GetInt(j.doc, "spec", "execution_limits", "max_iterations")
}

func (j JobView) MaxRuntimeSeconds() (int64, error) {
	return GetInt(j.doc, "spec", "execution_limits", "max_runtime_seconds")
}

func (j JobView) CostCapCurrency() (string, error) {
	return GetString(j.doc, "spec", "execution_limits", "cost_cap", "currency")
}

func (j JobView) CostCapMaxCost() (float64, error) {
	return GetFloat(j.doc, "spec", "execution_limits", "cost_cap", "max_cost")
}

// RequiredArtifactTypes lists spec.required_artifacts[*].artifact_type.
func (j JobView) RequiredArtifactTypes() ([]string, error) {
	items, err := GetSlice(j.doc, "spec", "required_artifacts")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, asString(obj["artifact_type"]))
	}
	return out, nil
}

// PermissionsSnapshot returns spec.permissions_snapshot.
func (j JobView) PermissionsSnapshot() (map[string]any, error) {
	return GetMap(j.doc, "spec", "permissions_snapshot")
}

// OrgView projects an OrganizationManifest.
type OrgView struct {
	doc Document
}

// Org wraps an OrganizationManifest document.
func Org(doc Document) OrgView { return OrgView{doc: doc} }

func (o OrgView) Doc() Document { return o.doc }

func (o OrgView) OrgID() (string, error) {
	return GetString(o.doc, "metadata", "org_id")
}

// ArtifactTypeSets returns the allowed and denied artifact type_id sets.
func (o OrgView) ArtifactTypeSets() (allowed, denied map[string]struct{}, err error) {
	allowedTypes, err := GetSlice(o.doc, "spec", "artifact_policy", "allowed_types")
	if err != nil {
		return nil, nil, err
	}
	deniedTypes, err := GetSlice(o.doc, "spec", "artifact_policy", "denied_types")
	if err != nil {
		return nil, nil, err
	}
	return typeIDSet(allowedTypes), typeIDSet(deniedTypes), nil
}

func typeIDSet(items []any) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out[asString(obj["type_id"])] = struct{}{}
		}
	}
	return out
}

func (o OrgView) SkillPolicy() (map[string]any, error) {
	return GetMap(o.doc, "spec", "skill_policy")
}

func (o OrgView) MCPAllowed() ([]any, error) {
	return GetSlice(o.doc, "spec", "external_access", "mcp", "allowed")
}

func (o OrgView) DirectNetwork() (map[string]any, error) {
	return GetMap(o.doc, "spec", "external_access", "direct_network")
}

func (o OrgView) MaxActiveJobs() (int64, error) {
	return GetInt(o.doc, "spec", "execution_limits", "concurrency", "max_active_jobs")
}

func (o OrgView) MaxJobStartsPerMinute() (int64, error) {
	return GetInt(o.doc, "spec", "execution_limits", "rate_limits", "max_job_starts_per_minute")
}

func (o OrgView) CostCapCurrency() (string, error) {
	return GetString(o.doc, "spec", "execution_limits", "cost_caps", "currency")
}

func (o OrgView) MaxCostPerJob() (float64, error) {
	return GetFloat(o.doc, "spec", "execution_limits", "cost_caps", "max_cost_per_job")
}

func (o OrgView) MaxJobRuntimeSeconds() (int64, error) {
	return GetInt(o.doc, "spec", "execution_limits", "timeouts", "max_job_runtime_seconds")
}

// AgentRoles returns spec.agent_roles entries.
func (o OrgView) AgentRoles() ([]any, error) {
	return GetSlice(o.doc, "spec", "agent_roles")
}

// AgentView projects an AgentDefinition.
type AgentView struct {
	doc Document
}

// Agent wraps an AgentDefinition document.
func Agent(doc Document) AgentView { return AgentView{doc: doc} }

func (a AgentView) Doc() Document { return a.doc }

func (a AgentView) AgentID() (string, error) {
	return GetString(a.doc, "metadata", "agent_id")
}

func (a AgentView) Role() (string, error) {
	return GetString(a.doc, "metadata", "role")
}

func (a AgentView) AuthorityLevel() (string, error) {
	return GetString(a.doc, "spec", "authority", "level")
}

// OrgInclusion returns spec.org_inclusion.
func (a AgentView) OrgInclusion() (map[string]any, error) {
	return GetMap(a.doc, "spec", "org_inclusion")
}

// ArtifactView projects an Artifact.
type ArtifactView struct {
	doc Document
}

// Artifact wraps an Artifact document.
func Artifact(doc Document) ArtifactView { return ArtifactView{doc: doc} }

func (a ArtifactView) Doc() Document { return a.doc }

func (a ArtifactView) ArtifactID() (string, error) {
	return GetString(a.doc, "metadata", "artifact_id")
}

func (a ArtifactView) OrgID() (string, error) {
	return GetString(a.doc, "metadata", "org_id")
}

func (a ArtifactView) ArtifactType() (string, error) {
	return GetString(a.doc, "metadata", "artifact_type")
}

func (a ArtifactView) JobID() (string, error) {
	return GetString(a.doc, "spec", "job_ref", "job_id")
}

func (a ArtifactView) CreatedAt() (string, error) {
	return GetString(a.doc, "spec", "created_at")
}

// ProducedByAgentID returns spec.produced_by.agent_id, "" when absent.
func (a ArtifactView) ProducedByAgentID() string {
	s, _ := GetString(a.doc, "spec", "produced_by", "agent_id")
	return s
}

// EvaluationView projects an Evaluation.
type EvaluationView struct {
	doc Document
}

// Evaluation wraps an Evaluation document.
func Evaluation(doc Document) EvaluationView { return EvaluationView{doc: doc} }

func (e EvaluationView) Doc() Document { return e.doc }

func (e EvaluationView) EvaluationID() (string, error) {
	return GetString(e.doc, "metadata", "evaluation_id")
}

func (e EvaluationView) OrgID() (string, error) {
	return GetString(e.doc, "metadata", "org_id")
}

func (e EvaluationView) JobID() (string, error) {
	return GetString(e.doc, "spec", "job_ref", "job_id")
}

func (e EvaluationView) OutcomeStatus() (string, error) {
	return GetString(e.doc, "spec", "outcome", "status")
}

func (e EvaluationView) NextJobState() (string, error) {
	return GetString(e.doc, "spec", "outcome", "next_job_state")
}

func (e EvaluationView) EvaluatorActorType() (string, error) {
	return GetString(e.doc, "spec", "evaluator", "actor_type")
}

func (e EvaluationView) EvaluatorActorID() (string, error) {
	return GetString(e.doc, "spec", "evaluator", "actor_id")
}

func (e EvaluationView) EvaluatorAuthorityLevel() (string, error) {
	return GetString(e.doc, "spec", "evaluator", "authority_level")
}

// ArtifactDecisionProducers lists spec.artifact_decisions[*].producing_agent_id,
// skipping absent or empty entries.
func (e EvaluationView) ArtifactDecisionProducers() []string {
	items, err := GetSlice(e.doc, "spec", "artifact_decisions")
	if err != nil {
		return nil
	}
	var out []string
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := obj["producing_agent_id"].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}
