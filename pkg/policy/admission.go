package policy

import (
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
	"github.com/Mindburn-Labs/foundry/pkg/registry"
)

// CheckArtifactAdmission ensures an artifact is allowed by the referenced
// job and the org policy. The job must exist (resolved by the caller) and be
// non-terminal; the artifact type must be in the org's allowed set; a named
// producing agent must be included in the org.
func CheckArtifactAdmission(artifact, job contracts.Document, reg *registry.Snapshot) error {
	view := contracts.Artifact(artifact)
	orgID, err := view.OrgID()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	artifactType, err := view.ArtifactType()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}

	jobOrgID, err := contracts.Job(job).OrgID()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if jobOrgID != orgID {
		return fault.PolicyViolation("Artifact.metadata.org_id must match JobContract.metadata.org_id")
	}

	state, err := contracts.Job(job).State()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if contracts.IsTerminalState(state) {
		return fault.Conflict("Cannot submit artifact for terminal job (state=%s)", state)
	}

	if !reg.HasOrg(orgID) {
		return fault.PolicyViolation("Unknown org_id: %s", orgID)
	}
	org, err := reg.Org(orgID)
	if err != nil {
		return err
	}
	allowed, _, err := contracts.Org(org.Document).ArtifactTypeSets()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if _, ok := allowed[artifactType]; !ok {
		return fault.PolicyViolation("Artifact type %s is not allowed by org policy", artifactType)
	}

	if producer := view.ProducedByAgentID(); producer != "" {
		included, err := reg.IncludedAgentIDs(orgID)
		if err != nil {
			return err
		}
		if _, ok := included[producer]; !ok {
			return fault.PolicyViolation("Producing agent %s is not included in org %s", producer, orgID)
		}
	}
	return nil
}

// CheckEvaluationAdmission enforces evaluator identity and authority for an
// evaluation against a non-terminal job. Expiry handling happens before this
// check, in the evaluation flow itself.
func CheckEvaluationAdmission(evaluation, job contracts.Document, reg *registry.Snapshot) error {
	view := contracts.Evaluation(evaluation)
	orgID, err := view.OrgID()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}

	jobOrgID, err := contracts.Job(job).OrgID()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if jobOrgID != orgID {
		return fault.PolicyViolation("Evaluation.metadata.org_id must match JobContract.metadata.org_id")
	}

	state, err := contracts.Job(job).State()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if contracts.IsTerminalState(state) {
		return fault.Conflict("Cannot apply evaluation to terminal job (state=%s)", state)
	}

	actorType, err := view.EvaluatorActorType()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	actorID, err := view.EvaluatorActorID()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}

	if actorType == "agent" {
		declaredAuthority, err := view.EvaluatorAuthorityLevel()
		if err != nil {
			return fault.PolicyViolation("%v", err)
		}
		agent, err := reg.Agent(actorID)
		if err != nil {
			return err
		}
		agentAuthority, err := contracts.Agent(agent.Document).AuthorityLevel()
		if err != nil {
			return fault.PolicyViolation("%v", err)
		}
		if agentAuthority != declaredAuthority {
			return fault.PolicyViolation("Evaluation evaluator authority_level does not match AgentDefinition authority level")
		}

		if !reg.HasOrg(orgID) {
			return fault.PolicyViolation("Cannot validate evaluator membership: org_id not found in registry")
		}
		included, err := reg.IncludedAgentIDs(orgID)
		if err != nil {
			return err
		}
		if _, ok := included[actorID]; !ok {
			return fault.PolicyViolation("Evaluator agent is not included in OrganizationManifest.spec.agent_roles")
		}

		// No agent may approve its own output.
		for _, producer := range view.ArtifactDecisionProducers() {
			if producer == actorID {
				return fault.PolicyViolation("Self-evaluation is prohibited (evaluator matches producing_agent_id)")
			}
		}
	}
	return nil
}
