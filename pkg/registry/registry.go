// Package registry holds the immutable startup snapshot of organization
// manifests, agent definitions, and skill contracts.
//
// The snapshot is configuration, not state: it is loaded once from the
// repository tree, validated document by document, and never written again.
// Any load or resolution failure aborts startup — the control plane fails
// closed rather than serving with a partial registry.
package registry

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// DocumentValidator validates a document of a canonical kind.
type DocumentValidator interface {
	Validate(kind string, doc contracts.Document) error
}

// OrganizationRecord is a validated OrganizationManifest and its source path.
type OrganizationRecord struct {
	OrgID    string
	Path     string
	Document contracts.Document
}

// AgentRecord is a validated AgentDefinition and its source path.
type AgentRecord struct {
	AgentID  string
	Role     string
	Path     string
	Document contracts.Document
}

// SkillRecord is a validated SkillContract keyed by (skill_id, version).
type SkillRecord struct {
	SkillID  string
	Version  string
	Path     string
	Document contracts.Document
}

// SkillKey identifies a skill contract.
type SkillKey struct {
	SkillID string
	Version string
}

// Config names the repository subdirectories the snapshot loads from.
type Config struct {
	OrgsDir             string
	AgentDefinitionsDir string
	SkillContractsDir   string
}

// Snapshot is the read-only registry shared by all workers.
type Snapshot struct {
	repoRoot     string
	orgs         map[string]OrganizationRecord
	agents       map[string]AgentRecord
	agentsByPath map[string]AgentRecord
	skills       map[SkillKey]SkillRecord
}

// Load builds the registry snapshot. The load protocol is ordered: agent
// definitions first, then organization manifests, then role-ref resolution,
// then optional skill contracts. Duplicates and unresolvable refs are fatal.
func Load(cfg Config, validator DocumentValidator) (*Snapshot, error) {
	repoRoot, err := filepath.Abs(filepath.Dir(cfg.OrgsDir))
	if err != nil {
		return nil, fmt.Errorf("registry: resolve repo root: %w", err)
	}

	s := &Snapshot{
		repoRoot:     repoRoot,
		orgs:         make(map[string]OrganizationRecord),
		agents:       make(map[string]AgentRecord),
		agentsByPath: make(map[string]AgentRecord),
		skills:       make(map[SkillKey]SkillRecord),
	}

	if err := s.loadAgents(cfg.AgentDefinitionsDir, validator); err != nil {
		return nil, err
	}
	if err := s.loadOrgs(cfg.OrgsDir, validator); err != nil {
		return nil, err
	}
	if err := s.resolveAgentRoles(validator); err != nil {
		return nil, err
	}
	if err := s.loadSkills(cfg.SkillContractsDir, validator); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) loadAgents(dir string, validator DocumentValidator) error {
	paths, err := walkYAMLFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		loaded, err := loadYAMLDocument(path)
		if err != nil {
			return err
		}
		if loaded.kind() != contracts.KindAgentDefinition {
			continue
		}
		if _, err := s.indexAgent(loaded, validator); err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshot) indexAgent(loaded loadedDocument, validator DocumentValidator) (AgentRecord, error) {
	if err := validator.Validate(contracts.KindAgentDefinition, loaded.doc); err != nil {
		return AgentRecord{}, fmt.Errorf("registry: %s: %w", loaded.path, err)
	}
	view := contracts.Agent(loaded.doc)
	agentID, err := view.AgentID()
	if err != nil {
		return AgentRecord{}, fmt.Errorf("registry: %s: %w", loaded.path, err)
	}
	role, err := view.Role()
	if err != nil {
		return AgentRecord{}, fmt.Errorf("registry: %s: %w", loaded.path, err)
	}
	if existing, ok := s.agents[agentID]; ok {
		return AgentRecord{}, fmt.Errorf("registry: duplicate AgentDefinition agent_id %q (%s and %s)", agentID, existing.Path, loaded.path)
	}
	rec := AgentRecord{AgentID: agentID, Role: role, Path: loaded.path, Document: loaded.doc}
	s.agents[agentID] = rec
	s.agentsByPath[loaded.path] = rec
	return rec, nil
}

func (s *Snapshot) loadOrgs(dir string, validator DocumentValidator) error {
	paths, err := walkYAMLFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		loaded, err := loadYAMLDocument(path)
		if err != nil {
			return err
		}
		if loaded.kind() != contracts.KindOrganizationManifest {
			continue
		}
		if err := validator.Validate(contracts.KindOrganizationManifest, loaded.doc); err != nil {
			return fmt.Errorf("registry: %s: %w", loaded.path, err)
		}
		orgID, err := contracts.Org(loaded.doc).OrgID()
		if err != nil {
			return fmt.Errorf("registry: %s: %w", loaded.path, err)
		}
		if existing, ok := s.orgs[orgID]; ok {
			return fmt.Errorf("registry: duplicate OrganizationManifest org_id %q (%s and %s)", orgID, existing.Path, loaded.path)
		}
		s.orgs[orgID] = OrganizationRecord{OrgID: orgID, Path: loaded.path, Document: loaded.doc}
	}
	return nil
}

// resolveAgentRoles resolves every spec.agent_roles[*].ref against the repo
// root, loading agents not already indexed, and enforces role alignment and
// org-inclusion rules.
func (s *Snapshot) resolveAgentRoles(validator DocumentValidator) error {
	for _, org := range s.orgs {
		roles, err := contracts.Org(org.Document).AgentRoles()
		if err != nil {
			return fmt.Errorf("registry: %s: %w", org.Path, err)
		}
		for _, roleRef := range roles {
			obj, ok := roleRef.(map[string]any)
			if !ok {
				return fmt.Errorf("registry: %s: agent role ref must be an object", org.Path)
			}
			roleID, _ := obj["role_id"].(string)
			ref, _ := obj["ref"].(string)
			if ref == "" {
				return fmt.Errorf("registry: %s: agent role ref.ref must be a non-empty string", org.Path)
			}

			agentPath, err := s.resolveRepoRef(ref)
			if err != nil {
				return fmt.Errorf("registry: org %s: %w", org.OrgID, err)
			}

			rec, ok := s.agentsByPath[agentPath]
			if !ok {
				loaded, err := loadYAMLDocument(agentPath)
				if err != nil {
					return fmt.Errorf("registry: org %s references missing AgentDefinition %q: %w", org.OrgID, ref, err)
				}
				if loaded.kind() != contracts.KindAgentDefinition {
					return fmt.Errorf("registry: org %s: ref %q is not an AgentDefinition (kind=%s)", org.OrgID, ref, loaded.kind())
				}
				rec, err = s.indexAgent(loaded, validator)
				if err != nil {
					return err
				}
			}

			// role_id alignment prevents manifests from aliasing roles silently.
			if roleID != "" && rec.Role != roleID {
				return fmt.Errorf("registry: org %s role_id %q does not match AgentDefinition.metadata.role %q (%s)",
					org.OrgID, roleID, rec.Role, rec.Path)
			}

			if err := checkOrgInclusion(rec, org.OrgID); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkOrgInclusion(rec AgentRecord, orgID string) error {
	inclusion, err := contracts.Agent(rec.Document).OrgInclusion()
	if err != nil {
		return fmt.Errorf("registry: %s: %w", rec.Path, err)
	}
	mode, _ := inclusion["mode"].(string)
	if mode != "allowlist" {
		return nil
	}
	allowed, _ := inclusion["allow_org_ids"].([]any)
	for _, v := range allowed {
		if id, ok := v.(string); ok && id == orgID {
			return nil
		}
	}
	return fmt.Errorf("registry: AgentDefinition %s is not allowed to be included by org %s (not in allow_org_ids)", rec.AgentID, orgID)
}

func (s *Snapshot) loadSkills(dir string, validator DocumentValidator) error {
	if dir == "" {
		return nil
	}
	paths, err := walkYAMLFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		loaded, err := loadYAMLDocument(path)
		if err != nil {
			return err
		}
		if loaded.kind() != contracts.KindSkillContract {
			continue
		}
		if err := validator.Validate(contracts.KindSkillContract, loaded.doc); err != nil {
			return fmt.Errorf("registry: %s: %w", loaded.path, err)
		}
		skillID, err := contracts.GetString(loaded.doc, "metadata", "skill_id")
		if err != nil {
			return fmt.Errorf("registry: %s: %w", loaded.path, err)
		}
		version, err := contracts.GetString(loaded.doc, "metadata", "version")
		if err != nil {
			return fmt.Errorf("registry: %s: %w", loaded.path, err)
		}
		key := SkillKey{SkillID: skillID, Version: version}
		if existing, ok := s.skills[key]; ok {
			return fmt.Errorf("registry: duplicate SkillContract %s@%s (%s and %s)", skillID, version, existing.Path, loaded.path)
		}
		s.skills[key] = SkillRecord{SkillID: skillID, Version: version, Path: loaded.path, Document: loaded.doc}
	}
	return nil
}

// resolveRepoRef resolves a repo-relative ref and proves it stays inside the
// repo root. External URIs, file: URIs, absolute paths, and `..` escapes are
// rejected.
func (s *Snapshot) resolveRepoRef(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("invalid ref (must be non-empty string)")
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		if strings.EqualFold(u.Scheme, "file") {
			return "", fmt.Errorf("file: URI refs are not allowed in registry (use repo-relative paths): %s", ref)
		}
		return "", fmt.Errorf("external URI refs are not allowed in registry: %s", ref)
	}
	if filepath.IsAbs(ref) {
		return "", fmt.Errorf("absolute refs are not allowed in registry: %s", ref)
	}
	resolved, err := filepath.Abs(filepath.Join(s.repoRoot, ref))
	if err != nil {
		return "", fmt.Errorf("resolve ref %s: %w", ref, err)
	}
	rel, err := filepath.Rel(s.repoRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("ref escapes repo root: %s", ref)
	}
	return resolved, nil
}

// RepoRoot returns the resolved repository root.
func (s *Snapshot) RepoRoot() string { return s.repoRoot }

// HasOrg reports whether org_id is in the registry.
func (s *Snapshot) HasOrg(orgID string) bool {
	_, ok := s.orgs[orgID]
	return ok
}

// Org returns the organization record. Unknown ids are policy violations:
// the id names configuration the caller cannot prove safe.
func (s *Snapshot) Org(orgID string) (OrganizationRecord, error) {
	rec, ok := s.orgs[orgID]
	if !ok {
		return OrganizationRecord{}, fault.PolicyViolation("unknown org_id (not in registry): %s", orgID)
	}
	return rec, nil
}

// Agent returns the agent record by agent_id.
func (s *Snapshot) Agent(agentID string) (AgentRecord, error) {
	rec, ok := s.agents[agentID]
	if !ok {
		return AgentRecord{}, fault.PolicyViolation("unknown agent_id (not in registry): %s", agentID)
	}
	return rec, nil
}

// ResolveAgentRef resolves an org manifest role ref to a loaded agent record.
func (s *Snapshot) ResolveAgentRef(ref string) (AgentRecord, error) {
	path, err := s.resolveRepoRef(ref)
	if err != nil {
		return AgentRecord{}, fault.PolicyViolation("%v", err)
	}
	rec, ok := s.agentsByPath[path]
	if !ok {
		return AgentRecord{}, fault.PolicyViolation("unknown AgentDefinition ref (not loaded): %s", ref)
	}
	return rec, nil
}

// Skill returns the skill record by (skill_id, version).
func (s *Snapshot) Skill(skillID, version string) (SkillRecord, bool) {
	rec, ok := s.skills[SkillKey{SkillID: skillID, Version: version}]
	return rec, ok
}

// IncludedAgentIDs returns the set of agent ids reachable through the org's
// agent_roles refs.
func (s *Snapshot) IncludedAgentIDs(orgID string) (map[string]struct{}, error) {
	org, err := s.Org(orgID)
	if err != nil {
		return nil, err
	}
	roles, err := contracts.Org(org.Document).AgentRoles()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(roles))
	for _, roleRef := range roles {
		obj, ok := roleRef.(map[string]any)
		if !ok {
			continue
		}
		ref, _ := obj["ref"].(string)
		if ref == "" {
			continue
		}
		rec, err := s.ResolveAgentRef(ref)
		if err != nil {
			return nil, err
		}
		ids[rec.AgentID] = struct{}{}
	}
	return ids, nil
}
