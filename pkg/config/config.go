// Package config loads the two startup configuration documents: runtime.yaml
// (service, registry, storage, scheduler) and limits.yaml (global hard
// bounds).
//
// Rules:
//   - fail closed when a config file is missing or invalid
//   - every relative path is resolved against the config file's directory
//   - environment variables may override individual file paths
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables honored by the loader.
const (
	EnvRuntimeConfig = "FOUNDRY_RUNTIME_CONFIG"
	EnvLimitsConfig  = "FOUNDRY_LIMITS_CONFIG"
	EnvSchemasDir    = "FOUNDRY_SCHEMAS_DIR"
	EnvOrgsDir       = "FOUNDRY_ORGS_DIR"
	EnvAgentsDir     = "FOUNDRY_AGENT_DEFINITIONS_DIR"
	EnvSkillsDir     = "FOUNDRY_SKILL_CONTRACTS_DIR"
	EnvSQLitePath    = "FOUNDRY_SQLITE_PATH"
)

// Runtime is the parsed runtime.yaml.
type Runtime struct {
	Flags     Flags
	Service   Service
	Registry  Registry
	Storage   Storage
	Scheduler Scheduler
	ConfigDir string
}

// Flags are process-wide behavior switches.
type Flags struct {
	Role             string
	StrictValidation bool
	FailClosed       bool
}

// Service is the HTTP listen configuration.
type Service struct {
	Host string
	Port int
}

// Registry names the repository directories the snapshot loads from.
type Registry struct {
	SchemasDir          string
	OrgsDir             string
	AgentDefinitionsDir string
	SkillContractsDir   string
}

// Storage selects the persistence driver.
type Storage struct {
	Driver     string
	SQLitePath string
}

// Scheduler configures the (build-mode disabled) background scheduler.
type Scheduler struct {
	Enabled             bool
	PollIntervalSeconds int
}

// Limits are the global hard bounds enforced on every job submission.
type Limits struct {
	MaxIterationsUpperBound     int64
	MaxRuntimeSecondsUpperBound int64
	MaxCostUpperBoundCurrency   string
	MaxCostUpperBound           float64
	MaxExpiresInSecondsUpper    int64
	RequireKnownOrg             bool
}

type runtimeFile struct {
	Runtime struct {
		Role             string `yaml:"role"`
		StrictValidation *bool  `yaml:"strict_validation"`
		FailClosed       *bool  `yaml:"fail_closed"`
	} `yaml:"runtime"`
	Service struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"service"`
	Registry struct {
		SchemasDir          string `yaml:"schemas_dir"`
		OrgsDir             string `yaml:"orgs_dir"`
		AgentDefinitionsDir string `yaml:"agent_definitions_dir"`
		SkillContractsDir   string `yaml:"skill_contracts_dir"`
	} `yaml:"registry"`
	Storage struct {
		Driver string `yaml:"driver"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"storage"`
	Scheduler struct {
		Enabled             bool `yaml:"enabled"`
		PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
	} `yaml:"scheduler"`
}

type limitsFile struct {
	JobContract struct {
		MaxIterationsUpperBound     *int64 `yaml:"max_iterations_upper_bound"`
		MaxRuntimeSecondsUpperBound *int64 `yaml:"max_runtime_seconds_upper_bound"`
		MaxExpiresInSecondsUpper    *int64 `yaml:"max_expires_in_seconds_upper_bound"`
		MaxCostUpperBound           struct {
			Currency string   `yaml:"currency"`
			MaxCost  *float64 `yaml:"max_cost"`
		} `yaml:"max_cost_upper_bound"`
	} `yaml:"job_contract"`
	Registry struct {
		RequireKnownOrg *bool `yaml:"require_known_org"`
	} `yaml:"registry"`
}

func readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: missing required config file: %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("config: invalid YAML in %s: %w", path, err)
	}
	return nil
}

// resolvePath resolves raw against baseDir unless it is already absolute.
func resolvePath(baseDir, raw string) string {
	if raw == "" || filepath.IsAbs(raw) {
		return raw
	}
	return filepath.Clean(filepath.Join(baseDir, raw))
}

func envOverride(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// LoadRuntime parses runtime.yaml and resolves every relative path against
// the file's own directory.
func LoadRuntime(path string) (Runtime, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Runtime{}, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	cfgDir := filepath.Dir(abs)

	var raw runtimeFile
	if err := readYAML(abs, &raw); err != nil {
		return Runtime{}, err
	}

	flags := Flags{Role: "dev", StrictValidation: true, FailClosed: true}
	if raw.Runtime.Role != "" {
		flags.Role = raw.Runtime.Role
	}
	if raw.Runtime.StrictValidation != nil {
		flags.StrictValidation = *raw.Runtime.StrictValidation
	}
	if raw.Runtime.FailClosed != nil {
		flags.FailClosed = *raw.Runtime.FailClosed
	}

	service := Service{Host: "0.0.0.0", Port: 8080}
	if raw.Service.Host != "" {
		service.Host = raw.Service.Host
	}
	if raw.Service.Port != 0 {
		service.Port = raw.Service.Port
	}

	reg := Registry{
		SchemasDir:          envOverride(EnvSchemasDir, resolvePath(cfgDir, defaultStr(raw.Registry.SchemasDir, "../schemas"))),
		OrgsDir:             envOverride(EnvOrgsDir, resolvePath(cfgDir, defaultStr(raw.Registry.OrgsDir, "../orgs"))),
		AgentDefinitionsDir: envOverride(EnvAgentsDir, resolvePath(cfgDir, defaultStr(raw.Registry.AgentDefinitionsDir, "../agents/definitions"))),
		SkillContractsDir:   envOverride(EnvSkillsDir, resolvePath(cfgDir, defaultStr(raw.Registry.SkillContractsDir, "../skills/contracts"))),
	}

	storage := Storage{
		Driver:     defaultStr(raw.Storage.Driver, "sqlite"),
		SQLitePath: envOverride(EnvSQLitePath, resolvePath(cfgDir, defaultStr(raw.Storage.SQLite.Path, "../state/foundry.sqlite"))),
	}

	scheduler := Scheduler{
		Enabled:             raw.Scheduler.Enabled,
		PollIntervalSeconds: defaultInt(raw.Scheduler.PollIntervalSeconds, 10),
	}

	return Runtime{
		Flags:     flags,
		Service:   service,
		Registry:  reg,
		Storage:   storage,
		Scheduler: scheduler,
		ConfigDir: cfgDir,
	}, nil
}

// LoadLimits parses limits.yaml.
func LoadLimits(path string) (Limits, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Limits{}, fmt.Errorf("config: resolve %s: %w", path, err)
	}

	var raw limitsFile
	if err := readYAML(abs, &raw); err != nil {
		return Limits{}, err
	}

	limits := Limits{
		MaxIterationsUpperBound:     500,
		MaxRuntimeSecondsUpperBound: 86400,
		MaxCostUpperBoundCurrency:   "USD",
		MaxCostUpperBound:           100.0,
		MaxExpiresInSecondsUpper:    604800,
		RequireKnownOrg:             true,
	}
	if v := raw.JobContract.MaxIterationsUpperBound; v != nil {
		limits.MaxIterationsUpperBound = *v
	}
	if v := raw.JobContract.MaxRuntimeSecondsUpperBound; v != nil {
		limits.MaxRuntimeSecondsUpperBound = *v
	}
	if v := raw.JobContract.MaxExpiresInSecondsUpper; v != nil {
		limits.MaxExpiresInSecondsUpper = *v
	}
	if raw.JobContract.MaxCostUpperBound.Currency != "" {
		limits.MaxCostUpperBoundCurrency = raw.JobContract.MaxCostUpperBound.Currency
	}
	if v := raw.JobContract.MaxCostUpperBound.MaxCost; v != nil {
		limits.MaxCostUpperBound = *v
	}
	if v := raw.Registry.RequireKnownOrg; v != nil {
		limits.RequireKnownOrg = *v
	}
	return limits, nil
}

// DefaultPaths returns the conventional config file locations relative to
// the working directory, honoring the env overrides.
func DefaultPaths() (runtimePath, limitsPath string) {
	runtimePath = envOverride(EnvRuntimeConfig, filepath.Join("config", "runtime.yaml"))
	limitsPath = envOverride(EnvLimitsConfig, filepath.Join("config", "limits.yaml"))
	return runtimePath, limitsPath
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
