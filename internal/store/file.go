package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

// FileBackend persists records as JSON documents in a directory tree:
//
//	<root>/decisions/<alert_id>.json
//	<root>/suppressed/<yyyy-mm-dd>/<alert_id>.json
//	<root>/latereplay/<alert_id>.json
//	<root>/validations/<alert_id>.jsonl
//
// Append-once is enforced with O_EXCL creates. A small index maps alert ids
// to their suppression partition so status updates need no directory walk.
type FileBackend struct {
	root string
	log  zerolog.Logger

	mu       sync.RWMutex
	supIndex map[string]string // alert id -> partitioned file path
}

// NewFileBackend prepares the directory tree and rebuilds the suppression
// partition index from disk.
func NewFileBackend(root string, log zerolog.Logger) (*FileBackend, error) {
	fb := &FileBackend{root: root, log: log, supIndex: make(map[string]string)}
	for _, d := range []string{"decisions", "suppressed", "latereplay", "validations"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, errs.Wrap(errs.KindResource, err, "create store dir %s", d)
		}
	}
	if err := fb.rebuildSuppressionIndex(); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *FileBackend) rebuildSuppressionIndex() error {
	base := filepath.Join(fb.root, "suppressed")
	days, err := os.ReadDir(base)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "scan suppressed dir")
	}
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(base, day.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if strings.HasSuffix(f.Name(), ".json") {
				id := strings.TrimSuffix(f.Name(), ".json")
				fb.supIndex[id] = filepath.Join(base, day.Name(), f.Name())
			}
		}
	}
	return nil
}

func (fb *FileBackend) Close() error { return nil }

// writeOnce creates path exclusively; reports false without error when the
// file already exists.
func writeOnce(path string, v any) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errs.Wrap(errs.KindResource, err, "create %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return false, errs.Wrap(errs.KindResource, err, "encode %s", path)
	}
	return true, nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(errs.KindResource, err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errs.Wrap(errs.KindConsistency, err, "decode %s", path)
	}
	return true, nil
}

func (fb *FileBackend) decisionPath(alertID string) string {
	return filepath.Join(fb.root, "decisions", alertID+".json")
}

func (fb *FileBackend) PutDecision(_ context.Context, rec models.DecisionRecord) (models.DecisionRecord, bool, error) {
	path := fb.decisionPath(rec.AlertID)
	created, err := writeOnce(path, rec)
	if err != nil {
		return models.DecisionRecord{}, false, err
	}
	if created {
		return rec, true, nil
	}
	var existing models.DecisionRecord
	if _, err := readJSON(path, &existing); err != nil {
		return models.DecisionRecord{}, false, err
	}
	return existing, false, nil
}

func (fb *FileBackend) GetDecision(_ context.Context, alertID string) (models.DecisionRecord, bool, error) {
	var rec models.DecisionRecord
	ok, err := readJSON(fb.decisionPath(alertID), &rec)
	return rec, ok, err
}

func (fb *FileBackend) PutSuppression(_ context.Context, sup models.Suppression) (bool, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if _, exists := fb.supIndex[sup.AlertID]; exists {
		return false, nil
	}
	day := sup.InsertedTS.UTC().Format("2006-01-02")
	dir := filepath.Join(fb.root, "suppressed", day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, errs.Wrap(errs.KindResource, err, "create partition %s", day)
	}
	path := filepath.Join(dir, sup.AlertID+".json")
	created, err := writeOnce(path, sup)
	if err != nil {
		return false, err
	}
	fb.supIndex[sup.AlertID] = path
	return created, nil
}

func (fb *FileBackend) GetSuppression(_ context.Context, alertID string) (models.Suppression, bool, error) {
	fb.mu.RLock()
	path, ok := fb.supIndex[alertID]
	fb.mu.RUnlock()
	if !ok {
		return models.Suppression{}, false, nil
	}
	var sup models.Suppression
	found, err := readJSON(path, &sup)
	return sup, found, err
}

func (fb *FileBackend) ListSuppressions(_ context.Context, status string) ([]models.Suppression, error) {
	fb.mu.RLock()
	paths := make([]string, 0, len(fb.supIndex))
	for _, p := range fb.supIndex {
		paths = append(paths, p)
	}
	fb.mu.RUnlock()
	sort.Strings(paths)

	var out []models.Suppression
	for _, p := range paths {
		var sup models.Suppression
		ok, err := readJSON(p, &sup)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if status == "" || sup.Status == status {
			out = append(out, sup)
		}
	}
	return out, nil
}

func (fb *FileBackend) UpdateSuppressionStatus(_ context.Context, alertID, status string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	path, ok := fb.supIndex[alertID]
	if !ok {
		return errs.New(errs.KindValidation, "no suppression for alert %s", alertID)
	}
	var sup models.Suppression
	found, err := readJSON(path, &sup)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.KindConsistency, "suppression file missing for %s", alertID)
	}
	sup.Status = status
	data, err := json.MarshalIndent(sup, "", "  ")
	if err != nil {
		return err
	}
	// Rewrite atomically so readers tailing the tree never see a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindResource, err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindResource, err, "replace %s", path)
	}
	return nil
}

func (fb *FileBackend) lateReplayPath(alertID string) string {
	return filepath.Join(fb.root, "latereplay", alertID+".json")
}

func (fb *FileBackend) PutLateReplay(_ context.Context, lr models.LateReplay) (bool, error) {
	return writeOnce(fb.lateReplayPath(lr.AlertID), lr)
}

func (fb *FileBackend) ListLateReplays(_ context.Context) ([]models.LateReplay, error) {
	dir := filepath.Join(fb.root, "latereplay")
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "scan latereplay dir")
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	var out []models.LateReplay
	for _, name := range names {
		var lr models.LateReplay
		ok, err := readJSON(filepath.Join(dir, name), &lr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, lr)
		}
	}
	return out, nil
}

func (fb *FileBackend) MarkLateReplayDelivered(_ context.Context, alertID string) error {
	path := fb.lateReplayPath(alertID)
	var lr models.LateReplay
	ok, err := readJSON(path, &lr)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindValidation, "no late replay for alert %s", alertID)
	}
	lr.Delivered = true
	data, err := json.MarshalIndent(lr, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindResource, err, "write %s", tmp)
	}
	return os.Rename(tmp, path)
}

func (fb *FileBackend) AppendValidation(_ context.Context, v models.ValidationLog) error {
	path := filepath.Join(fb.root, "validations", v.AlertID+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "open %s", path)
	}
	defer f.Close()
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errs.Wrap(errs.KindResource, err, "append %s", path)
	}
	return nil
}

func (fb *FileBackend) Validations(_ context.Context, alertID string) ([]models.ValidationLog, error) {
	path := filepath.Join(fb.root, "validations", alertID+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindResource, err, "read %s", path)
	}
	var out []models.ValidationLog
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var v models.ValidationLog
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			fb.log.Warn().Str("alert_id", alertID).Msg("skipping corrupt validation line")
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
