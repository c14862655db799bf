package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/table"
)

// ModelSummary is one model's aggregate over a run.
type ModelSummary struct {
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold"`
	Positives int     `json:"positives"`
}

// RunRecord is the persisted snapshot of a run: the result table (input
// columns plus rf_proba, rf_pred, lr_proba, lr_pred) and a per-model summary.
type RunRecord struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Source    string       `json:"source,omitempty"`
	Rows      int          `json:"rows"`
	Tree      ModelSummary `json:"tree"`
	Linear    ModelSummary `json:"linear"`
	Results   *table.Table `json:"results"`
}

// RecordFromResult builds the snapshot of res. source names the input
// (file name or "row").
func RecordFromResult(res *inference.Result, source string) RunRecord {
	return RunRecord{
		ID:        res.ID,
		CreatedAt: res.CreatedAt,
		Source:    source,
		Rows:      res.Len(),
		Tree:      summarize(res.Tree),
		Linear:    summarize(res.Linear),
		Results:   res.Table(),
	}
}

func summarize(o inference.ModelOutput) ModelSummary {
	s := ModelSummary{Model: o.Model, Threshold: o.Threshold}
	for _, l := range o.Labels {
		s.Positives += l
	}
	return s
}

// WriteCanonical writes t as CSV to path, replacing any previous file. The
// file is written next to path and renamed so readers never see a partial
// file.
func WriteCanonical(path string, t *table.Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := t.WriteCSV(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace results file: %w", err)
	}
	return nil
}

// SaveRun writes the canonical results CSV (skipped when resultsPath is
// empty) and replaces the snapshot in store (skipped when store is nil).
func SaveRun(resultsPath string, store *Store, res *inference.Result, source string) (RunRecord, error) {
	rec := RecordFromResult(res, source)
	if resultsPath != "" {
		if err := WriteCanonical(resultsPath, rec.Results); err != nil {
			return rec, err
		}
	}
	if store != nil {
		if err := store.PutLatest(rec); err != nil {
			return rec, fmt.Errorf("store run snapshot: %w", err)
		}
	}
	return rec, nil
}
