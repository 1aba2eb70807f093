package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/errs"
)

// FileLog is the line-delimited JSON audit store: one entry per line,
// single writer under a mutex. Readers tail the file without taking the
// lock; the end-of-file position captured under the lock gives a consistent
// tail.
type FileLog struct {
	mu       sync.Mutex
	path     string
	lastHash string
	halted   bool
	clock    clockwork.Clock
	log      zerolog.Logger
}

// OpenFileLog creates or reopens an audit file and seeds the chain tip from
// its last entry.
func OpenFileLog(path string, clock clockwork.Clock, log zerolog.Logger) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "create audit dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "open audit log")
	}
	defer f.Close()

	l := &FileLog{path: path, clock: clock, log: log}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		l.lastHash = e.Hash
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "scan audit log")
	}
	return l, nil
}

// Append writes one chained entry. After any write failure the log halts:
// further audited operations fail until Reset clears the condition.
func (l *FileLog) Append(actor, action string, diff map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return Entry{}, errs.New(errs.KindConsistency, "audit log halted after write failure")
	}

	entry, err := buildEntry(l.clock, actor, action, diff, l.lastHash)
	if err != nil {
		return Entry{}, err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		l.halted = true
		return Entry{}, errs.Wrap(errs.KindResource, err, "open audit log for append")
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.halted = true
		return Entry{}, errs.Wrap(errs.KindResource, err, "append audit entry")
	}

	l.lastHash = entry.Hash
	return entry, nil
}

// Reset clears the halted state after the operator remediated the storage
// failure.
func (l *FileLog) Reset() {
	l.mu.Lock()
	l.halted = false
	l.mu.Unlock()
	l.log.Warn().Msg("audit log halt cleared by operator")
}

// readAll parses every entry in insertion order.
func (l *FileLog) readAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindResource, err, "open audit log")
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, errs.Wrap(errs.KindConsistency, err, "corrupt audit line")
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Tail returns the last limit entries, newest last.
func (l *FileLog) Tail(limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// VerifyChain re-hashes entries in insertion order and checks every _prev
// link. limit 0 verifies the whole log; otherwise only the last limit
// entries are checked (their first entry's _prev is not checkable and is
// skipped).
func (l *FileLog) VerifyChain(limit int) (Report, error) {
	entries, err := l.readAll()
	if err != nil {
		return Report{}, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return verifyEntries(entries), nil
}
