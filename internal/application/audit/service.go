package audit

import (
	"context"
	"fmt"

	"github.com/khanhnv2901/seca-compliance/internal/domain/audit"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
)

// HashAlgorithm seals the audit trail.
const HashAlgorithm = "sha256"

// Service provides application-level audit operations
type Service struct {
	repo audit.Repository
}

// NewService creates a new audit service
func NewService(repo audit.Repository) *Service {
	return &Service{
		repo: repo,
	}
}

// RecordRun appends one row per result of r and reseals the trail. It
// returns the new trail hash.
func (s *Service) RecordRun(ctx context.Context, r *run.Run) (string, error) {
	if err := s.repo.AppendEntries(ctx, audit.EntriesFor(r)); err != nil {
		return "", fmt.Errorf("failed to record audit entries: %w", err)
	}

	hash, err := s.repo.Seal(ctx, HashAlgorithm)
	if err != nil {
		return "", fmt.Errorf("failed to seal audit trail: %w", err)
	}
	return hash, nil
}

// GetAuditTrail retrieves the audit trail
func (s *Service) GetAuditTrail(ctx context.Context) (*audit.AuditTrail, error) {
	auditTrail, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}

	return auditTrail, nil
}

// VerifyIntegrity verifies the integrity of the audit trail
func (s *Service) VerifyIntegrity(ctx context.Context) (bool, error) {
	valid, err := s.repo.VerifyIntegrity(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to verify integrity: %w", err)
	}

	return valid, nil
}
