package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/params"
)

// runMeta is written to run.json at the root of every run directory.
type runMeta struct {
	RunID     string        `json:"run_id"`
	StartedAt string        `json:"started_at"`
	Params    params.Params `json:"params"`
}

func writeRunMeta(dir string, m runMeta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "run.json"), b, 0o644)
}

func readRunMeta(dir string) (runMeta, error) {
	var m runMeta
	b, err := os.ReadFile(filepath.Join(dir, "run.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("run.json: %w", err)
	}
	return m, nil
}

func newRunMeta(runID string, p params.Params) runMeta {
	return runMeta{RunID: runID, StartedAt: time.Now().UTC().Format(time.RFC3339), Params: p}
}

func snapshotDir(runDir string) string { return filepath.Join(runDir, "snapshots") }

type multiTickLogger []engine.TickLogger

func (m multiTickLogger) WriteTick(rec engine.TickRecord) error {
	var errs *multierror.Error
	for _, l := range m {
		if l != nil {
			errs = multierror.Append(errs, l.WriteTick(rec))
		}
	}
	return errs.ErrorOrNil()
}

type multiAuditLogger []engine.AuditLogger

func (m multiAuditLogger) WriteAudit(ev engine.Event) error {
	var errs *multierror.Error
	for _, l := range m {
		if l != nil {
			errs = multierror.Append(errs, l.WriteAudit(ev))
		}
	}
	return errs.ErrorOrNil()
}
