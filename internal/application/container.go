package application

import (
	"fmt"

	"go.uber.org/zap"

	auditapp "github.com/khanhnv2901/seca-compliance/internal/application/audit"
	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	"github.com/khanhnv2901/seca-compliance/internal/catalog"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/audit"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/seca-compliance/internal/metrics"
)

// Options configures NewContainer.
type Options struct {
	ResultsDir string
	// ChecksDir holds extra YAML check packs. Optional.
	ChecksDir string
	// PluginsDir holds JSON plugin definitions. Optional.
	PluginsDir string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Container holds all application services and repositories
// This is a simple dependency injection container
type Container struct {
	Registry *check.Registry

	// Repositories
	RunRepo   run.Repository
	AuditRepo audit.Repository

	// Services
	RunService   *runapp.Service
	AuditService *auditapp.Service

	// SkippedPlugins maps plugin files that failed to load to their error.
	SkippedPlugins map[string]error
}

// NewContainer creates a new application service container
func NewContainer(opts Options) (*Container, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, skipped, err := BuildRegistry(opts.ChecksDir, opts.PluginsDir)
	if err != nil {
		return nil, err
	}
	for file, perr := range skipped {
		logger.Warn("plugin_skipped", zap.String("file", file), zap.Error(perr))
	}

	// Initialize repositories
	runRepo, err := json.NewRunRepository(opts.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create run repository: %w", err)
	}

	auditRepo, err := json.NewAuditRepository(opts.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit repository: %w", err)
	}

	// Initialize services
	auditService := auditapp.NewService(auditRepo)
	runService := runapp.NewService(registry, runRepo, auditService, opts.Metrics, logger)

	return &Container{
		Registry:       registry,
		RunRepo:        runRepo,
		AuditRepo:      auditRepo,
		RunService:     runService,
		AuditService:   auditService,
		SkippedPlugins: skipped,
	}, nil
}

// BuildRegistry registers the built-in packs, the packs in checksDir and the
// plugins in pluginsDir. Plugins that fail to load are returned, not fatal.
func BuildRegistry(checksDir, pluginsDir string) (*check.Registry, map[string]error, error) {
	defs, err := catalog.Load(checksDir)
	if err != nil {
		return nil, nil, err
	}

	registry := check.NewRegistry()
	if err := registry.Register(catalog.Checks(defs)...); err != nil {
		return nil, nil, err
	}

	var skipped map[string]error
	if pluginsDir != "" {
		plugins, bad, err := check.LoadPlugins(pluginsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load plugins: %w", err)
		}
		skipped = bad
		for _, p := range plugins {
			if err := registry.Register(p); err != nil {
				return nil, nil, err
			}
		}
	}
	return registry, skipped, nil
}
