package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

type FileAction string

const (
	ActionNew      FileAction = "new"
	ActionModified FileAction = "modified"
	ActionDeleted  FileAction = "deleted"
)

// Label names the remote operation an action turns into.
func (a FileAction) Label() string {
	switch a {
	case ActionNew:
		return "Upload"
	case ActionModified:
		return "Update"
	case ActionDeleted:
		return "Delete"
	default:
		return string(a)
	}
}

// FileResult is the outcome of one file in one cycle. Path is the canonical
// path once placement succeeded; Source is where a new file was found.
type FileResult struct {
	Path    string
	Source  string
	Action  FileAction
	Outcome OutcomeKind
	Err     error
}

// CycleReport aggregates the per-file results of one reconciliation cycle.
type CycleReport struct {
	ID        string
	Started   time.Time
	Duration  time.Duration
	Results   map[string]FileResult
	Unchanged int
	Pending   int
	Err       error
	lock      *sync.Mutex
}

func newCycleReport(started time.Time) *CycleReport {
	return &CycleReport{
		ID:      uuid.New().String(),
		Started: started,
		Results: make(map[string]FileResult),
		lock:    new(sync.Mutex),
	}
}

func (r *CycleReport) AddResult(result FileResult) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.Results[result.Path] = result
}

func (r *CycleReport) Result(path string) (FileResult, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	result, ok := r.Results[path]
	return result, ok
}

func (r *CycleReport) Count(outcome OutcomeKind) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	count := 0
	for _, result := range r.Results {
		if result.Outcome == outcome {
			count++
		}
	}
	return count
}

// Failures returns every result that did not sync, ordered by path.
func (r *CycleReport) Failures() []FileResult {
	r.lock.Lock()
	defer r.lock.Unlock()
	failures := make([]FileResult, 0)
	for _, result := range r.Results {
		if result.Outcome != OutcomeOK {
			failures = append(failures, result)
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	return failures
}

// NeedsAttention is true when an operator should hear about this cycle: the
// cycle itself failed or a remote operation gave up.
func (r *CycleReport) NeedsAttention() bool {
	return r.Err != nil || r.Count(OutcomeFatal) > 0
}

func outcomeFor(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return OutcomeRetryable
	default:
		return OutcomeFatal
	}
}

// Engine runs the scan, diff, apply, persist cycle.
type Engine struct {
	Root             string
	RootID           string
	State            *StateStore
	Scanner          *Scanner
	Placer           *Placer
	Remote           RemoteStore
	Retry            RetryPolicy
	Clock            clockwork.Clock
	ReviveTombstones bool
}

// RunCycle performs one full reconciliation pass. Per-file failures are
// recorded in the report and never abort the rest of the cycle.
func (e *Engine) RunCycle(ctx context.Context) *CycleReport {
	report := newCycleReport(e.Clock.Now())
	logger := log.WithField("cycle", report.ID)

	scan, scanErr := e.Scanner.Scan(ctx)
	if scanErr != nil {
		report.Err = fmt.Errorf("scanning %s: %w", e.Root, scanErr)
		report.Duration = e.Clock.Since(report.Started)
		return report
	}

	// tombstones stay in the baseline unless resurrections should re-upload
	previous := e.State.Fingerprints(!e.ReviveTombstones)
	diff := Classify(previous, scan.Current)
	report.Unchanged = len(diff.Unchanged)
	report.Pending = len(scan.Pending)

	// canonical paths written by this cycle; a new file found already sitting
	// on one of them was overwritten by an earlier placement and is not synced
	// again. Two sources sharing a canonical path still replace each other.
	handled := make(map[string]bool)
	for _, path := range diff.New {
		if handled[path] {
			continue
		}
		if canonical := e.syncNew(ctx, logger, path, scan.Current[path], report); canonical != "" {
			handled[canonical] = true
		}
	}

	for _, path := range diff.Deleted {
		if handled[path] {
			continue
		}
		if scan.Pending[path] {
			logger.Debug(fmt.Sprintf("%s is still on disk but not ready, not treating it as deleted", path))
			continue
		}
		e.syncDeleted(ctx, logger, path, report)
	}

	for _, path := range diff.Modified {
		if handled[path] {
			continue
		}
		e.syncModified(ctx, logger, path, scan.Current[path], report)
	}

	if saveErr := e.State.Save(); saveErr != nil {
		report.Err = fmt.Errorf("saving state: %w", saveErr)
	}
	report.Duration = e.Clock.Since(report.Started)

	return report
}

func (e *Engine) syncNew(ctx context.Context, logger *log.Entry, source, fingerprint string, report *CycleReport) string {
	logger.Info(fmt.Sprintf("New file detected: %s", source))
	canonical, placeErr := e.Placer.Place(source)
	if placeErr != nil {
		e.addResult(logger, report, FileResult{Path: source, Source: source, Action: ActionNew, Err: placeErr})
		return ""
	}

	result := FileResult{Path: canonical, Source: source, Action: ActionNew}
	// same name on the same day replaces the object synced earlier
	if existing, ok := e.State.Record(canonical); ok && existing.Status == StatusSynced {
		if deleteErr := e.deleteRemote(ctx, existing.RemoteID); deleteErr != nil {
			result.Err = deleteErr
			e.addResult(logger, report, result)
			return canonical
		}
	}

	remoteID, uploadErr := e.upload(ctx, canonical)
	if uploadErr != nil {
		result.Err = uploadErr
		e.addResult(logger, report, result)
		return canonical
	}
	e.State.MarkSynced(canonical, fingerprint, remoteID, e.Clock.Now())
	e.addResult(logger, report, result)

	return canonical
}

func (e *Engine) syncDeleted(ctx context.Context, logger *log.Entry, path string, report *CycleReport) {
	record, ok := e.State.Record(path)
	if !ok || record.Status == StatusTombstoned {
		return
	}

	logger.Info(fmt.Sprintf("File deleted locally: %s", path))
	result := FileResult{Path: path, Action: ActionDeleted}
	if deleteErr := e.deleteRemote(ctx, record.RemoteID); deleteErr != nil {
		result.Err = deleteErr
		e.addResult(logger, report, result)
		return
	}
	e.State.MarkTombstoned(path)
	e.addResult(logger, report, result)
}

func (e *Engine) syncModified(ctx context.Context, logger *log.Entry, path, fingerprint string, report *CycleReport) {
	record, ok := e.State.Record(path)
	if !ok {
		return
	}

	logger.Info(fmt.Sprintf("File modified: %s", path))
	result := FileResult{Path: path, Action: ActionModified}
	// a tombstoned record's object was already removed
	if record.Status == StatusSynced {
		if deleteErr := e.deleteRemote(ctx, record.RemoteID); deleteErr != nil {
			result.Err = deleteErr
			e.addResult(logger, report, result)
			return
		}
	}

	remoteID, uploadErr := e.upload(ctx, path)
	if uploadErr != nil {
		result.Err = uploadErr
		e.addResult(logger, report, result)
		return
	}
	e.State.MarkSynced(path, fingerprint, remoteID, e.Clock.Now())
	e.addResult(logger, report, result)
}

func (e *Engine) upload(ctx context.Context, canonical string) (string, error) {
	folderPath := remoteFolderPath(e.Root, canonical)

	var folderID string
	resolveErr := e.Retry.Do(ctx, "resolve folder "+folderPath, func(ctx context.Context) error {
		id, err := e.Remote.ResolveOrCreateFolder(ctx, folderPath, e.RootID)
		if err != nil {
			return err
		}
		folderID = id
		return nil
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	var remoteID string
	uploadErr := e.Retry.Do(ctx, "upload "+canonical, func(ctx context.Context) error {
		id, err := e.Remote.Upload(ctx, folderID, canonical)
		if err != nil {
			return err
		}
		remoteID = id
		return nil
	})

	return remoteID, uploadErr
}

func (e *Engine) deleteRemote(ctx context.Context, remoteID string) error {
	if remoteID == "" {
		return nil
	}
	return e.Retry.Do(ctx, "delete "+remoteID, func(ctx context.Context) error {
		return e.Remote.Delete(ctx, remoteID)
	})
}

func (e *Engine) addResult(logger *log.Entry, report *CycleReport, result FileResult) {
	result.Outcome = outcomeFor(result.Err)
	entry := logger.WithFields(log.Fields{"action": result.Action, "path": result.Path})
	switch result.Outcome {
	case OutcomeOK:
		entry.Info("Synced")
	case OutcomeRetryable:
		entry.Warn(fmt.Sprintf("Not synced, will retry next cycle: %s", result.Err))
	default:
		entry.Error(fmt.Sprintf("Sync failed: %s", result.Err))
	}
	report.AddResult(result)
}

// remoteFolderPath mirrors the canonical file's directory relative to root,
// slash separated.
func remoteFolderPath(root, canonical string) string {
	relDir, relErr := filepath.Rel(root, filepath.Dir(canonical))
	if relErr != nil || relDir == "." {
		return ""
	}
	return filepath.ToSlash(relDir)
}
