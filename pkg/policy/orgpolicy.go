package policy

import (
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// CheckJobWithinOrgPolicy ensures a job's required artifacts, permissions
// snapshot, and execution limits do not exceed the org's declared boundaries.
func CheckJobWithinOrgPolicy(job, org contracts.Document) error {
	if err := checkRequiredArtifactsAllowed(job, org); err != nil {
		return err
	}
	if err := checkPermissionsSnapshot(job, org); err != nil {
		return err
	}
	return checkExecutionLimitsVsOrg(job, org)
}

func checkRequiredArtifactsAllowed(job, org contracts.Document) error {
	required, err := contracts.GetSlice(job, "spec", "required_artifacts")
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	allowedIDs, deniedIDs, err := contracts.Org(org).ArtifactTypeSets()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	for _, ra := range required {
		obj, ok := ra.(map[string]any)
		if !ok {
			return fault.PolicyViolation("Expected object in spec.required_artifacts")
		}
		aType, _ := obj["artifact_type"].(string)
		if _, denied := deniedIDs[aType]; denied {
			return fault.PolicyViolation("Artifact type is explicitly denied by org policy: %s", aType)
		}
		if _, allowed := allowedIDs[aType]; !allowed {
			return fault.PolicyViolation("Artifact type is not allowed by org policy: %s", aType)
		}
	}
	return nil
}

func checkPermissionsSnapshot(job, org contracts.Document) error {
	snapshot, err := contracts.Job(job).PermissionsSnapshot()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if err := checkSkills(snapshot, org); err != nil {
		return err
	}
	if err := checkMCP(snapshot, org); err != nil {
		return err
	}
	return checkDirectNetwork(snapshot, org)
}

// checkSkills applies the three-step rule per requested skill id and
// category: explicit deny wins, explicit allow passes, otherwise the org's
// default_rule decides.
func checkSkills(snapshot map[string]any, org contracts.Document) error {
	skillPolicy, err := contracts.Org(org).SkillPolicy()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	defaultRule, _ := skillPolicy["default_rule"].(string)
	allow, _ := skillPolicy["allow"].(map[string]any)
	deny, _ := skillPolicy["deny"].(map[string]any)

	allowIDs := stringSetAt(allow, "skill_ids")
	allowCats := stringSetAt(allow, "skill_categories")
	denyIDs := stringSetAt(deny, "skill_ids")
	denyCats := stringSetAt(deny, "skill_categories")

	jobSkills, err := contracts.GetMap(snapshot, "skills")
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	for _, sid := range stringsAt(jobSkills, "allowed_skill_ids") {
		if _, denied := denyIDs[sid]; denied {
			return fault.PolicyViolation("Job permissions_snapshot includes denied skill_id: %s", sid)
		}
		if _, allowed := allowIDs[sid]; allowed {
			continue
		}
		if defaultRule == "allow" {
			continue
		}
		return fault.PolicyViolation("Job permissions_snapshot skill_id not allowed by org policy: %s", sid)
	}
	for _, cat := range stringsAt(jobSkills, "allowed_skill_categories") {
		if _, denied := denyCats[cat]; denied {
			return fault.PolicyViolation("Job permissions_snapshot includes denied skill_category: %s", cat)
		}
		if _, allowed := allowCats[cat]; allowed {
			continue
		}
		if defaultRule == "allow" {
			continue
		}
		return fault.PolicyViolation("Job permissions_snapshot skill_category not allowed by org policy: %s", cat)
	}
	return nil
}

func checkMCP(snapshot map[string]any, org contracts.Document) error {
	orgAllowed, err := contracts.Org(org).MCPAllowed()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	orgByID := make(map[string]map[string]any, len(orgAllowed))
	for _, item := range orgAllowed {
		obj, ok := item.(map[string]any)
		if !ok {
			return fault.PolicyViolation("Expected object in org external_access.mcp.allowed")
		}
		id, _ := obj["mcp_id"].(string)
		orgByID[id] = obj
	}

	jobAllowed, err := contracts.GetSlice(snapshot, "mcp", "allowed")
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	for _, item := range jobAllowed {
		obj, ok := item.(map[string]any)
		if !ok {
			return fault.PolicyViolation("Expected object in permissions_snapshot.mcp.allowed")
		}
		mcpID, _ := obj["mcp_id"].(string)
		orgObj, known := orgByID[mcpID]
		if !known {
			return fault.PolicyViolation("Job permissions_snapshot includes MCP not allowed by org: %s", mcpID)
		}
		if jobRef, _ := obj["ref"].(string); jobRef != asStr(orgObj["ref"]) {
			return fault.PolicyViolation("Job MCP ref does not match org registry for %s", mcpID)
		}

		orgScopes := stringSetAt(orgObj, "allowed_scopes")
		jobScopes, err := contracts.GetSlice(obj, "allowed_scopes")
		if err != nil {
			return fault.PolicyViolation("%v", err)
		}
		if len(orgScopes) > 0 {
			if len(jobScopes) == 0 {
				return fault.PolicyViolation("Job must declare allowed_scopes for MCP %s (org requires scoped access)", mcpID)
			}
			for _, s := range contracts.Strings(jobScopes) {
				if _, ok := orgScopes[s]; !ok {
					return fault.PolicyViolation("Job allowed_scopes for MCP %s exceed org allowed_scopes", mcpID)
				}
			}
		}
	}
	return nil
}

func checkDirectNetwork(snapshot map[string]any, org contracts.Document) error {
	orgNet, err := contracts.Org(org).DirectNetwork()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	jobNet, err := contracts.GetMap(snapshot, "direct_external_network")
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	orgPolicy, _ := orgNet["policy"].(string)
	jobPolicy, _ := jobNet["policy"].(string)

	if orgPolicy == "deny_all" && jobPolicy != "deny_all" {
		return fault.PolicyViolation("Org policy denies all direct network; job must set direct_external_network.policy=deny_all")
	}

	if orgPolicy == "allowlist" && jobPolicy == "allowlist" {
		orgAllow, _ := orgNet["allowlist"].(map[string]any)
		orgDeny, _ := orgNet["denylist"].(map[string]any)
		jobAllow, _ := jobNet["allowlist"].(map[string]any)

		for _, label := range []string{"domains", "urls", "ip_cidrs"} {
			jobList := stringsAt(jobAllow, label)
			orgSet := stringSetAt(orgAllow, label)
			denySet := stringSetAt(orgDeny, label)
			for _, entry := range jobList {
				if _, ok := orgSet[entry]; !ok {
					return fault.PolicyViolation("Job direct network allowlist %q exceeds org allowlist", label)
				}
			}
			for _, entry := range jobList {
				if _, ok := denySet[entry]; ok {
					return fault.PolicyViolation("Job direct network allowlist %q includes org-denied entries", label)
				}
			}
		}
	}
	return nil
}

func checkExecutionLimitsVsOrg(job, org contracts.Document) error {
	jobView := contracts.Job(job)
	orgView := contracts.Org(org)

	orgCurrency, err := orgView.CostCapCurrency()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	orgMaxCost, err := orgView.MaxCostPerJob()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	jobCurrency, err := jobView.CostCapCurrency()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	jobMaxCost, err := jobView.CostCapMaxCost()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}

	if jobCurrency != orgCurrency {
		return fault.PolicyViolation("Job cost_cap currency %s must match org currency %s", jobCurrency, orgCurrency)
	}
	if jobMaxCost > orgMaxCost {
		return fault.PolicyViolation("Job cost_cap.max_cost exceeds org max_cost_per_job")
	}

	orgMaxRuntime, err := orgView.MaxJobRuntimeSeconds()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	jobMaxRuntime, err := jobView.MaxRuntimeSeconds()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if jobMaxRuntime > orgMaxRuntime {
		return fault.PolicyViolation("Job max_runtime_seconds exceeds org max_job_runtime_seconds")
	}
	return nil
}

func stringSetAt(obj map[string]any, key string) map[string]struct{} {
	if obj == nil {
		return map[string]struct{}{}
	}
	list, _ := obj[key].([]any)
	return contracts.StringSet(list)
}

func stringsAt(obj map[string]any, key string) []string {
	if obj == nil {
		return nil
	}
	list, _ := obj[key].([]any)
	return contracts.Strings(list)
}

func asStr(v any) string {
	s, _ := v.(string)
	return s
}
