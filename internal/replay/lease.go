package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bolcd/condense-engine/internal/errs"
)

// Lease is a named, file-backed exclusive lease. Only the holder runs the
// reconciler sweep; a crashed holder's lease expires on its own.
type Lease struct {
	path  string
	name  string
	owner string
	ttl   time.Duration
	clock clockwork.Clock
}

type leaseState struct {
	Name    string    `json:"name"`
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

// NewLease prepares a lease in dir. owner must be unique per contender.
func NewLease(dir, name, owner string, ttl time.Duration, clock clockwork.Clock) *Lease {
	return &Lease{
		path:  filepath.Join(dir, name+".lease"),
		name:  name,
		owner: owner,
		ttl:   ttl,
		clock: clock,
	}
}

func (l *Lease) read() (leaseState, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return leaseState{}, false
	}
	var st leaseState
	if err := json.Unmarshal(data, &st); err != nil {
		return leaseState{}, false
	}
	return st, true
}

func (l *Lease) write(st leaseState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := l.path + "." + l.owner + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindResource, err, "write lease")
	}
	return os.Rename(tmp, l.path)
}

// Acquire takes the lease when it is free or expired. Returns true when this
// owner now holds it.
func (l *Lease) Acquire() bool {
	now := l.clock.Now()
	if st, ok := l.read(); ok && st.Owner != l.owner && now.Before(st.Expires) {
		return false
	}
	if err := l.write(leaseState{Name: l.name, Owner: l.owner, Expires: now.Add(l.ttl)}); err != nil {
		return false
	}
	// Re-read to confirm the write was not raced by another contender.
	st, ok := l.read()
	return ok && st.Owner == l.owner
}

// Renew extends the lease; returns false when ownership was lost.
func (l *Lease) Renew() bool {
	st, ok := l.read()
	if !ok || st.Owner != l.owner {
		return false
	}
	st.Expires = l.clock.Now().Add(l.ttl)
	return l.write(st) == nil
}

// Held reports whether this owner currently holds an unexpired lease.
func (l *Lease) Held() bool {
	st, ok := l.read()
	return ok && st.Owner == l.owner && l.clock.Now().Before(st.Expires)
}

// Release drops the lease if held.
func (l *Lease) Release() {
	if st, ok := l.read(); ok && st.Owner == l.owner {
		_ = os.Remove(l.path)
	}
}
