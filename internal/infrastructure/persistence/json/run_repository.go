package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/shared/security"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

const runsSubdir = "runs"

// runDTO is the data transfer object for JSON serialization
type runDTO struct {
	ID          string          `json:"id"`
	Operator    string          `json:"operator"`
	Target      string          `json:"target"`
	TargetKind  string          `json:"target_kind"`
	Selection   string          `json:"selection"`
	StartedAt   string          `json:"started_at"`
	CompletedAt string          `json:"completed_at,omitempty"`
	Status      string          `json:"status"`
	Failure     string          `json:"failure,omitempty"`
	Results     []resultDTO     `json:"results"`
	Summary     summary.Summary `json:"summary"`
	Metadata    metadataDTO     `json:"metadata"`
}

type metadataDTO struct {
	AuditHash     string `json:"audit_hash,omitempty"`
	HashAlgorithm string `json:"hash_algorithm,omitempty"`
}

type resultDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Evidence   string `json:"evidence,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at,omitempty"`
}

// RunRepository implements the run.Repository interface using one JSON file per run
type RunRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewRunRepository creates a new JSON-based run repository under resultsDir
func NewRunRepository(resultsDir string) (*RunRepository, error) {
	if resultsDir == "" {
		return nil, fmt.Errorf("results directory cannot be empty")
	}

	dir := filepath.Join(resultsDir, runsSubdir)
	if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	return &RunRepository{dir: dir}, nil
}

// Dir returns the directory holding the run files.
func (r *RunRepository) Dir() string {
	return r.dir
}

func (r *RunRepository) pathFor(id string) (string, error) {
	if err := security.ValidateName("run id", id); err != nil {
		return "", fmt.Errorf("%w: %v", sharedErrors.ErrInvalidInput, err)
	}
	return security.ResolveWithin(r.dir, id+".json")
}

// Save persists a run with all its results
func (r *RunRepository) Save(ctx context.Context, rn *run.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	filePath, err := r.pathFor(rn.ID())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(toDTO(rn), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, constants.PrivateFilePerm); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// FindByID retrieves a run by its ID
func (r *RunRepository) FindByID(ctx context.Context, id string) (*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filePath, err := r.pathFor(id)
	if err != nil {
		return nil, err
	}
	rn, err := loadFromFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", sharedErrors.ErrRunNotFound, id)
	}
	return rn, err
}

// FindAll retrieves all runs, newest first. Unreadable files are skipped.
func (r *RunRepository) FindAll(ctx context.Context) ([]*run.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	runs := make([]*run.Run, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		rn, err := loadFromFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		runs = append(runs, rn)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt().After(runs[j].StartedAt())
	})
	return runs, nil
}

// Latest retrieves the most recently started run
func (r *RunRepository) Latest(ctx context.Context) (*run.Run, error) {
	runs, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, sharedErrors.ErrRunNotFound
	}
	return runs[0], nil
}

// Delete removes a run by its ID
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	filePath, err := r.pathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", sharedErrors.ErrRunNotFound, id)
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Helper functions

func loadFromFile(filePath string) (*run.Run, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var dto runDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sharedErrors.ErrDeserializationFailed, filepath.Base(filePath), err)
	}
	return fromDTO(dto)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func toDTO(rn *run.Run) runDTO {
	s := rn.Snapshot()
	dto := runDTO{
		ID:          s.ID,
		Operator:    s.Operator,
		Target:      s.Target,
		TargetKind:  string(s.TargetKind),
		Selection:   s.Selection,
		StartedAt:   formatTime(s.StartedAt),
		CompletedAt: formatTime(s.CompletedAt),
		Status:      string(s.Status),
		Failure:     s.Failure,
		Results:     make([]resultDTO, 0, len(s.Results)),
		Summary:     s.Summary,
		Metadata: metadataDTO{
			AuditHash:     s.Metadata.AuditHash,
			HashAlgorithm: s.Metadata.HashAlgorithm,
		},
	}

	for _, res := range s.Results {
		dto.Results = append(dto.Results, resultDTO{
			ID:         res.ID,
			Name:       res.Name,
			Category:   res.Category,
			Status:     res.Status.String(),
			Message:    res.Message,
			Evidence:   res.Evidence,
			DurationMS: res.Duration.Milliseconds(),
			StartedAt:  formatTime(res.StartedAt),
		})
	}
	return dto
}

func fromDTO(dto runDTO) (*run.Run, error) {
	startedAt, err := parseTime(dto.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started at time: %w", err)
	}
	completedAt, err := parseTime(dto.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse completed at time: %w", err)
	}

	switch st := run.Status(dto.Status); st {
	case run.StatusPending, run.StatusRunning, run.StatusCompleted, run.StatusCancelled, run.StatusFailed:
	default:
		return nil, fmt.Errorf("%w: %q", sharedErrors.ErrInvalidRunStatus, dto.Status)
	}

	results := make([]check.Result, 0, len(dto.Results))
	for _, rd := range dto.Results {
		status, err := check.ParseStatus(rd.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to convert result %s: %w", rd.ID, err)
		}
		resStarted, err := parseTime(rd.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to convert result %s: %w", rd.ID, err)
		}
		results = append(results, check.Result{
			ID:        rd.ID,
			Name:      rd.Name,
			Category:  rd.Category,
			Status:    status,
			Message:   rd.Message,
			Evidence:  rd.Evidence,
			Duration:  time.Duration(rd.DurationMS) * time.Millisecond,
			StartedAt: resStarted,
		})
	}

	return run.Reconstruct(run.Snapshot{
		ID:          dto.ID,
		Operator:    dto.Operator,
		Target:      dto.Target,
		TargetKind:  target.Kind(dto.TargetKind),
		Selection:   dto.Selection,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Status:      run.Status(dto.Status),
		Results:     results,
		Summary:     dto.Summary,
		Failure:     dto.Failure,
		Metadata: run.Metadata{
			AuditHash:     dto.Metadata.AuditHash,
			HashAlgorithm: dto.Metadata.HashAlgorithm,
		},
	}), nil
}
