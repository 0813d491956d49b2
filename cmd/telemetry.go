package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
)

const telemetryFileName = "telemetry.jsonl"

type telemetryRecord struct {
	Timestamp           time.Time `json:"timestamp"`
	Command             string    `json:"command"`
	RunID               string    `json:"run_id"`
	Target              string    `json:"target"`
	Overall             string    `json:"overall"`
	CheckCount          int       `json:"check_count"`
	PassedCount         int       `json:"passed_count"`
	WarningCount        int       `json:"warning_count"`
	FailedCount         int       `json:"failed_count"`
	ErrorCount          int       `json:"error_count"`
	SkippedCount        int       `json:"skipped_count"`
	SuccessRate         float64   `json:"success_rate"`
	DurationSeconds     float64   `json:"duration_seconds"`
	AvgDurationPerCheck float64   `json:"avg_duration_per_check"`
}

func newTelemetryRecord(command string, rn *run.Run) telemetryRecord {
	totals := rn.Summary().Totals
	duration := rn.Duration()

	avgDuration := 0.0
	if totals.Total > 0 {
		avgDuration = duration.Seconds() / float64(totals.Total)
	}

	return telemetryRecord{
		Timestamp:           time.Now().UTC(),
		Command:             command,
		RunID:               rn.ID(),
		Target:              rn.Target(),
		Overall:             rn.Overall().String(),
		CheckCount:          totals.Total,
		PassedCount:         totals.Passed,
		WarningCount:        totals.Warning,
		FailedCount:         totals.Failed,
		ErrorCount:          totals.Error,
		SkippedCount:        totals.Skipped,
		SuccessRate:         totals.Score(),
		DurationSeconds:     duration.Seconds(),
		AvgDurationPerCheck: avgDuration,
	}
}

func recordTelemetry(appCtx *AppContext, command string, rn *run.Run) error {
	data, err := json.Marshal(newTelemetryRecord(command, rn))
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	telemetryPath := filepath.Join(appCtx.ResultsDir, telemetryFileName)
	f, err := os.OpenFile(telemetryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, consts.DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}

	return nil
}

// loadTelemetryHistory reads every record, oldest first. A missing file is
// an empty history; malformed lines are skipped.
func loadTelemetryHistory(resultsDir string) ([]telemetryRecord, error) {
	f, err := os.Open(filepath.Join(resultsDir, telemetryFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	var records []telemetryRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec telemetryRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}
	return records, nil
}
