// foundry is the control-plane binary: an HTTP runtime plus small
// operational subcommands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/foundry/pkg/api"
	"github.com/Mindburn-Labs/foundry/pkg/config"
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/engine"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
	"github.com/Mindburn-Labs/foundry/pkg/observability"
	"github.com/Mindburn-Labs/foundry/pkg/registry"
	"github.com/Mindburn-Labs/foundry/pkg/scheduler"
	"github.com/Mindburn-Labs/foundry/pkg/schema"
	"github.com/Mindburn-Labs/foundry/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatch entrypoint, testable via injected streams.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stdout, stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stdout, stderr)
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "health":
		return runHealth(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: foundry [command]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  server             Start the control-plane HTTP runtime (default)")
	_, _ = fmt.Fprintln(w, "  validate <kind> <file>")
	_, _ = fmt.Fprintln(w, "                     Validate a YAML or JSON document against its canonical schema")
	_, _ = fmt.Fprintln(w, "  health             Probe the runtime health endpoint")
	_, _ = fmt.Fprintln(w, "  help               Show this help")
}

// components is the wired control plane.
type components struct {
	runtime     config.Runtime
	server      *api.Server
	scheduler   *scheduler.Scheduler
	provider    *observability.Provider
	closeStores func() error
}

// buildComponents loads config, schemas, registry, and storage. Any failure
// aborts startup: the control plane fails closed rather than serving with a
// partial registry or an unreadable store.
func buildComponents(ctx context.Context, stderr io.Writer) (*components, error) {
	runtimePath, limitsPath := config.DefaultPaths()
	runtime, err := config.LoadRuntime(runtimePath)
	if err != nil {
		return nil, err
	}
	limits, err := config.LoadLimits(limitsPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(stderr, observability.DefaultConfig().LogLevel)
	provider, err := observability.New(ctx, observability.DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}

	schemas, err := schema.Load(runtime.Registry.SchemasDir)
	if err != nil {
		return nil, err
	}
	snapshot, err := registry.Load(registry.Config{
		OrgsDir:             runtime.Registry.OrgsDir,
		AgentDefinitionsDir: runtime.Registry.AgentDefinitionsDir,
		SkillContractsDir:   runtime.Registry.SkillContractsDir,
	}, schemas)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(runtime.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	jobs := store.NewSQLiteJobStore(db)
	artifacts := store.NewSQLiteArtifactStore(db)
	evaluations := store.NewSQLiteEvaluationStore(db)

	eng := engine.New(schemas, snapshot, jobs, artifacts, limits, engine.WithLogger(logger))
	evalService := engine.NewEvaluationService(schemas, snapshot, evaluations, jobs, engine.WithEvaluationLogger(logger))

	return &components{
		runtime:     runtime,
		server:      api.NewServer(eng, evalService, logger),
		scheduler:   scheduler.New(runtime.Scheduler, logger),
		provider:    provider,
		closeStores: db.Close,
	}, nil
}

func runServer(stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = comps.closeStores() }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = comps.provider.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := comps.scheduler.Run(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "scheduler: %v\n", err)
		}
	}()

	addr := net.JoinHostPort(comps.runtime.Service.Host, fmt.Sprintf("%d", comps.runtime.Service.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           comps.server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	_, _ = fmt.Fprintf(stdout, "foundry runtime listening on %s\n", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		_, _ = fmt.Fprintf(stderr, "server: %v\n", err)
		return 1
	}
	return 0
}

// runValidate validates a single document file against its canonical schema
// and prints violations as JSON.
func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: foundry validate <kind> <file>")
		return 2
	}
	kind, path := args[0], args[1]

	runtimePath, _ := config.DefaultPaths()
	runtime, err := config.LoadRuntime(runtimePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	schemas, err := schema.Load(runtime.Registry.SchemasDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load schemas: %v\n", err)
		return 1
	}

	doc, err := readDocumentFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	if err := schemas.Validate(kind, doc); err != nil {
		var schemaErr *fault.SchemaValidationError
		if errors.As(err, &schemaErr) {
			out, _ := json.MarshalIndent(schemaErr.Violations, "", "  ")
			_, _ = fmt.Fprintf(stderr, "%s is invalid:\n%s\n", kind, out)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "validate: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s is valid: %s\n", kind, path)
	return 0
}

func runHealth(stdout, stderr io.Writer) int {
	runtimePath, _ := config.DefaultPaths()
	runtime, err := config.LoadRuntime(runtimePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	host := runtime.Service.Host
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, fmt.Sprintf("%d", runtime.Service.Port)))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health probe failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "health probe returned %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}

func readDocumentFile(path string) (contracts.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var v any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse JSON %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse YAML %s: %w", path, err)
		}
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected an object at the document root", path)
	}
	return doc, nil
}
