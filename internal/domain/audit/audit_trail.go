package audit

import (
	"errors"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
)

// AuditTrail is the append-only log of check results across runs.
// Its integrity is protected by a hash of the serialized trail.
type AuditTrail struct {
	entries       []*Entry
	hash          string
	hashAlgorithm string
	sealed        bool // Once sealed, no more entries can be added
}

// Entry is one audit row: one check result of one run.
type Entry struct {
	Timestamp  time.Time
	RunID      string
	Operator   string
	Target     string
	CheckID    string
	Category   string
	Status     string
	DurationMS int64
	Message    string
}

// NewAuditTrail creates an empty, unsealed audit trail
func NewAuditTrail() *AuditTrail {
	return &AuditTrail{entries: make([]*Entry, 0)}
}

// Reconstruct creates an audit trail from persisted data
func Reconstruct(entries []*Entry, hash, hashAlgorithm string) *AuditTrail {
	return &AuditTrail{
		entries:       entries,
		hash:          hash,
		hashAlgorithm: hashAlgorithm,
		sealed:        hash != "",
	}
}

// EntriesFor converts the results of r into audit entries.
func EntriesFor(r *run.Run) []*Entry {
	results := r.Results()
	out := make([]*Entry, 0, len(results))
	for _, res := range results {
		ts := res.StartedAt
		if ts.IsZero() {
			ts = r.StartedAt()
		}
		out = append(out, &Entry{
			Timestamp:  ts.UTC(),
			RunID:      r.ID(),
			Operator:   r.Operator(),
			Target:     r.Target(),
			CheckID:    res.ID,
			Category:   res.Category,
			Status:     res.Status.String(),
			DurationMS: res.Duration.Milliseconds(),
			Message:    res.Message,
		})
	}
	return out
}

// Business methods

// AppendEntry adds a new entry to the audit trail
func (at *AuditTrail) AppendEntry(entry *Entry) error {
	if at.sealed {
		return errors.New("cannot append to a sealed audit trail")
	}
	if entry == nil {
		return errors.New("entry cannot be nil")
	}
	if entry.RunID == "" {
		return errors.New("entry run ID cannot be empty")
	}
	at.entries = append(at.entries, entry)
	return nil
}

// Seal finalizes the audit trail with its hash
func (at *AuditTrail) Seal(hash, algorithm string) error {
	if at.sealed {
		return errors.New("audit trail is already sealed")
	}
	if hash == "" {
		return errors.New("hash cannot be empty")
	}
	if algorithm != "sha256" && algorithm != "sha512" {
		return errors.New("unsupported hash algorithm")
	}
	at.hash = hash
	at.hashAlgorithm = algorithm
	at.sealed = true
	return nil
}

// VerifyIntegrity checks if the computed hash matches the recorded hash
func (at *AuditTrail) VerifyIntegrity(computedHash string) bool {
	return at.sealed && at.hash == computedHash
}

// IsSealed checks if the audit trail is sealed
func (at *AuditTrail) IsSealed() bool {
	return at.sealed
}

// ForRun returns the entries of one run.
func (at *AuditTrail) ForRun(runID string) []*Entry {
	var out []*Entry
	for _, e := range at.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Getters

func (at *AuditTrail) Entries() []*Entry {
	// Return a copy to prevent external modification
	entriesCopy := make([]*Entry, len(at.entries))
	copy(entriesCopy, at.entries)
	return entriesCopy
}

func (at *AuditTrail) Hash() string {
	return at.hash
}

func (at *AuditTrail) HashAlgorithm() string {
	return at.hashAlgorithm
}
