// Package retention applies time-based deletion and archival policies to the
// persisted data tree. Each data class maps to a subdirectory; files older
// than the class period are deleted. Only classes with Archive set copy them
// to the archive tree first (gzip-compressed at or past 1 MiB); other classes
// delete without archiving. Classes on compliance hold are never touched.
package retention

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/errs"
)

// gzipThreshold is the size past which archived files are compressed.
const gzipThreshold = 1 << 20

// classDirs maps data classes to their subdirectories under the data root.
var classDirs = map[string][]string{
	"alerts":     {"decisions", "suppressed", "latereplay", "validations"},
	"audit":      {"audit-archive"},
	"metrics":    {"metrics"},
	"reports":    {"reports"},
	"temporary":  {"tmp"},
	"compliance": {"compliance"},
}

// Manager runs retention ticks over the data tree.
type Manager struct {
	root    string
	archive string
	cfg     config.RetentionConfig
	clock   clockwork.Clock
	log     zerolog.Logger
}

// Result summarizes one retention tick.
type Result struct {
	Class    string `json:"class"`
	Scanned  int    `json:"scanned"`
	Archived int    `json:"archived"`
	Deleted  int    `json:"deleted"`
	Skipped  bool   `json:"skipped,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// NewManager builds a retention manager over the data root.
func NewManager(root string, cfg config.RetentionConfig, clock clockwork.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		root:    root,
		archive: filepath.Join(root, "archive"),
		cfg:     cfg,
		clock:   clock,
		log:     log,
	}
}

// Tick applies every class policy once. In dry-run mode nothing is mutated;
// counts report what would happen.
func (m *Manager) Tick(dryRun bool) ([]Result, error) {
	classes := make([]string, 0, len(m.cfg.Classes))
	for c := range m.cfg.Classes {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	var out []Result
	for _, class := range classes {
		policy := m.cfg.Classes[class]
		res, err := m.applyClass(class, policy, dryRun)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (m *Manager) applyClass(class string, policy config.RetentionClass, dryRun bool) (Result, error) {
	res := Result{Class: class, DryRun: dryRun}
	if policy.ComplianceHold {
		res.Skipped = true
		return res, nil
	}
	if policy.Days <= 0 {
		res.Skipped = true
		return res, nil
	}

	cutoff := m.clock.Now().Add(-time.Duration(policy.Days) * 24 * time.Hour)
	for _, dir := range classDirs[class] {
		base := filepath.Join(m.root, dir)
		err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			res.Scanned++
			if !info.ModTime().Before(cutoff) {
				return nil
			}
			if dryRun {
				if policy.Archive {
					res.Archived++
				}
				res.Deleted++
				return nil
			}
			if policy.Archive {
				if err := m.archiveFile(base, path, info.Size()); err != nil {
					return err
				}
				res.Archived++
			}
			if err := os.Remove(path); err != nil {
				return errs.Wrap(errs.KindResource, err, "delete %s", path)
			}
			res.Deleted++
			return nil
		})
		if err != nil {
			return res, errs.Wrap(errs.KindResource, err, "retention walk %s", base)
		}
	}

	m.log.Info().
		Str("class", class).
		Int("scanned", res.Scanned).
		Int("archived", res.Archived).
		Int("deleted", res.Deleted).
		Bool("dry_run", dryRun).
		Msg("retention tick")
	return res, nil
}

// archiveFile mirrors the file into the archive tree, gzip-compressing
// anything at or past the threshold.
func (m *Manager) archiveFile(base, path string, size int64) error {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return err
	}
	dst := filepath.Join(m.archive, filepath.Base(base), rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Wrap(errs.KindResource, err, "create archive dir")
	}

	src, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "open %s", path)
	}
	defer src.Close()

	if size >= gzipThreshold {
		out, err := os.Create(dst + ".gz")
		if err != nil {
			return errs.Wrap(errs.KindResource, err, "create %s.gz", dst)
		}
		defer out.Close()
		gz := gzip.NewWriter(out)
		if _, err := io.Copy(gz, src); err != nil {
			return errs.Wrap(errs.KindResource, err, "compress %s", path)
		}
		return gz.Close()
	}

	out, err := os.Create(dst)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "create %s", dst)
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}
