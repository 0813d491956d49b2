package json

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/domain/audit"
	"github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/shared/security"
)

// AuditFileName is the name of the audit trail under the results directory.
const AuditFileName = "audit.csv"

var auditHeader = []string{
	"timestamp",
	"run_id",
	"operator",
	"target",
	"check_id",
	"category",
	"status",
	"duration_ms",
	"message",
}

// AuditRepository implements the audit.Repository interface using CSV file storage
type AuditRepository struct {
	path string
	mu   sync.RWMutex
}

// NewAuditRepository creates a new CSV-based audit repository
func NewAuditRepository(resultsDir string) (*AuditRepository, error) {
	if resultsDir == "" {
		return nil, fmt.Errorf("results directory cannot be empty")
	}
	if err := os.MkdirAll(resultsDir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	path, err := security.ResolveWithin(resultsDir, AuditFileName)
	if err != nil {
		return nil, err
	}
	return &AuditRepository{path: path}, nil
}

// Path returns the audit CSV location.
func (r *AuditRepository) Path() string {
	return r.path
}

// AppendEntries appends entries to the trail, writing the header first when
// the file is new. Appending invalidates any previous seal.
func (r *AuditRepository) AppendEntries(ctx context.Context, entries []*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	fileExists := true
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		fileExists = false
	}

	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.PrivateFilePerm)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if !fileExists {
		if err := writer.Write(auditHeader); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for _, entry := range entries {
		record := []string{
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.RunID,
			entry.Operator,
			entry.Target,
			entry.CheckID,
			entry.Category,
			entry.Status,
			strconv.FormatInt(entry.DurationMS, 10),
			sanitizeCell(entry.Message),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// sanitizeCell keeps spreadsheet applications from evaluating messages that
// start with a formula character.
func sanitizeCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}

// Load reads the whole trail including its recorded hash
func (r *AuditRepository) Load(ctx context.Context) (*audit.AuditTrail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return audit.NewAuditTrail(), nil
		}
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(auditHeader)

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return audit.NewAuditTrail(), nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	entries := make([]*audit.Entry, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		timestamp, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		durationMS, _ := strconv.ParseInt(record[7], 10, 64)

		entries = append(entries, &audit.Entry{
			Timestamp:  timestamp,
			RunID:      record[1],
			Operator:   record[2],
			Target:     record[3],
			CheckID:    record[4],
			Category:   record[5],
			Status:     record[6],
			DurationMS: durationMS,
			Message:    record[8],
		})
	}

	var hashValue, hashAlgorithm string
	for _, alg := range []string{"sha256", "sha512"} {
		content, err := os.ReadFile(r.path + "." + alg)
		if err != nil {
			continue
		}
		if fields := strings.Fields(string(content)); len(fields) > 0 {
			hashValue, hashAlgorithm = fields[0], alg
			break
		}
	}

	return audit.Reconstruct(entries, hashValue, hashAlgorithm), nil
}

// ComputeHash calculates the hash of the audit trail file
func (r *AuditRepository) ComputeHash(ctx context.Context, algorithm string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.computeHash(algorithm)
}

func (r *AuditRepository) computeHash(algorithm string) (string, error) {
	var h hash.Hash
	switch algorithm {
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("%w: unsupported hash algorithm %q", sharedErrors.ErrInvalidInput, algorithm)
	}

	file, err := os.Open(r.path)
	if err != nil {
		return "", fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to compute hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Seal computes the hash and writes it to a sha256sum-compatible companion
// file next to the trail.
func (r *AuditRepository) Seal(ctx context.Context, algorithm string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sum, err := r.computeHash(algorithm)
	if err != nil {
		return "", err
	}
	content := fmt.Sprintf("%s  %s\n", sum, filepath.Base(r.path))
	if err := os.WriteFile(r.path+"."+algorithm, []byte(content), constants.DefaultFilePerm); err != nil {
		return "", fmt.Errorf("failed to write hash file: %w", err)
	}
	return sum, nil
}

// VerifyIntegrity verifies the trail against its recorded hash
func (r *AuditRepository) VerifyIntegrity(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return false, fmt.Errorf("audit trail not found: %s", r.path)
	}

	for _, algorithm := range []string{"sha256", "sha512"} {
		content, err := os.ReadFile(r.path + "." + algorithm)
		if err != nil {
			continue
		}
		fields := strings.Fields(string(content))
		if len(fields) == 0 {
			continue
		}
		actual, err := r.computeHash(algorithm)
		if err != nil {
			return false, err
		}
		return fields[0] == actual, nil
	}
	return false, fmt.Errorf("no hash file found for %s", r.path)
}
