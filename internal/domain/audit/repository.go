package audit

import "context"

// Repository defines the interface for audit trail persistence
type Repository interface {
	// AppendEntries appends entries to the trail
	AppendEntries(ctx context.Context, entries []*Entry) error

	// Load reads the whole trail including its recorded hash
	Load(ctx context.Context) (*AuditTrail, error)

	// ComputeHash calculates the hash of the audit trail file
	ComputeHash(ctx context.Context, algorithm string) (string, error)

	// Seal computes the hash and records it next to the trail
	Seal(ctx context.Context, algorithm string) (string, error)

	// VerifyIntegrity verifies the trail against its recorded hash
	VerifyIntegrity(ctx context.Context) (bool, error)
}
