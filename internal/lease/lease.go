/*
Copyright 2024 The Ceph-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lease implements the distributed exclusive lock rooted on a
// head object: acquisition with a diagnostic-emitting retry loop, a
// background renewal keeper, and blocklist/loss detection. It depends
// only on radosio and errs, never on striper, so that striper can compose
// a *Lease without an import cycle.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ceph/go-rados-striper/internal/errs"
	"github.com/ceph/go-rados-striper/internal/log"
	"github.com/ceph/go-rados-striper/internal/metrics"
	"github.com/ceph/go-rados-striper/internal/radosio"
)

// State is the lease's position in the unlocked -> locking -> locked ->
// unlocking -> unlocked lifecycle, with a terminal lost state reachable
// from locked when the keeper has had no successful renewal for longer
// than the renewal timeout. A server-side blocklisting or a lock now held
// by another cookie is detected only through those failed renewals; a
// single failed renewal does not by itself mark the lease lost.
type State int

const (
	StateUnlocked State = iota
	StateLocking
	StateLocked
	StateUnlocking
	StateLost
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateLocking:
		return "locking"
	case StateLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// lockRetryInterval and lockDiagnosticInterval: retry every 5ms while
// busy, log lockers every 500ms.
const (
	lockRetryInterval      = 5 * time.Millisecond
	lockDiagnosticInterval = 500 * time.Millisecond
)

// Flusher is implemented by whatever holds data that must be durable
// before a lease is released - in this module, *striper.Striper. Lease
// depends only on this narrow interface to avoid importing striper.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Refresher is invoked after a successful lock acquisition, to let the
// caller reload any state that may have changed while this client was not
// the lease holder.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Lease is a single handle's exclusive lock on oid, keyed by a per-handle
// random cookie. It is not safe to share a Lease across goroutines that
// are not already serialising their calls to it, matching the striper's
// own single-caller-at-a-time contract.
type Lease struct {
	adapter         radosio.Adapter
	oid             string
	cookie          string
	renewalInterval time.Duration
	renewalTimeout  time.Duration
	flusher         Flusher
	refresher       Refresher

	mu          sync.Mutex
	state       State
	lastRenewal time.Time

	keeperCancel context.CancelFunc
	keeperDone   chan struct{}

	metrics *metrics.Collector
}

// SetMetrics attaches a Collector that Lock/renewOnce increment. Optional;
// a nil Collector (the default) disables instrumentation.
func (l *Lease) SetMetrics(m *metrics.Collector) {
	l.mu.Lock()
	l.metrics = m
	l.mu.Unlock()
}

// New constructs a Lease on oid. renewalInterval/renewalTimeout come from
// Config; flusher and refresher may be the same object (striper.Striper
// implements both) or nil if the caller has no state to flush/refresh.
func New(
	adapter radosio.Adapter,
	oid string,
	renewalInterval, renewalTimeout time.Duration,
	flusher Flusher,
	refresher Refresher,
) *Lease {
	return &Lease{
		adapter:         adapter,
		oid:             oid,
		cookie:          uuid.NewString(),
		renewalInterval: renewalInterval,
		renewalTimeout:  renewalTimeout,
		flusher:         flusher,
		refresher:       refresher,
		state:           StateUnlocked,
	}
}

// Cookie returns this handle's lock cookie, rendered canonically.
func (l *Lease) Cookie() string {
	return l.cookie
}

// State returns the lease's current lifecycle state.
func (l *Lease) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// IsLocked reports whether this handle currently believes it holds the
// lease, without a round trip to the object store.
func (l *Lease) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state == StateLocked
}

// LockerReport renders the current holders of the lock for diagnostics.
type LockerReport struct {
	Exclusive bool
	Tag       string
	Lockers   []radosio.LockerInfo
}

// String renders the report the way a human-facing log line would.
func (r LockerReport) String() string {
	s := fmt.Sprintf("exclusive=%v tag=%q lockers=%d", r.Exclusive, r.Tag, len(r.Lockers))
	for _, lk := range r.Lockers {
		s += fmt.Sprintf(" [client=%s cookie=%s addr=%s]", lk.Client, lk.Cookie, lk.Address)
	}

	return s
}

// ListLockers fetches the current locker list from the object store.
func (l *Lease) ListLockers(ctx context.Context) (LockerReport, error) {
	ll, err := l.adapter.ListLockers(ctx, l.oid, striperLockName)
	if err != nil {
		return LockerReport{}, fmt.Errorf("failed to list lockers on %s: %w", l.oid, err)
	}

	return LockerReport{Exclusive: ll.Exclusive, Tag: ll.Tag, Lockers: ll.Lockers}, nil
}

// striperLockName and striperLockDescription name the lock taken on the
// head object. Duplicated here (rather than imported from striper) to
// keep this package's dependency graph one-directional; both packages
// must keep these values identical.
const (
	striperLockName        = "striper.lock"
	striperLockDescription = "SimpleRADOSStriper"
)

// Lock attempts to acquire the lease, retrying every 5ms while busy and
// emitting a locker-list diagnostic every 500ms, until timeout elapses (0
// means retry forever). On success it calls Refresh to reload metadata
// that may have changed while another client held the lease, then starts
// the renewal keeper.
func (l *Lease) Lock(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	if l.state == StateLost {
		l.mu.Unlock()

		return errs.ErrLostLease
	}
	l.state = StateLocking
	l.mu.Unlock()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	// Seeded a full interval in the past so the first busy response logs a
	// diagnostic immediately, not only after the first 500ms has elapsed.
	lastDiagnostic := time.Now().Add(-lockDiagnosticInterval)

	for {
		err := l.adapter.ExclusiveLock(ctx, l.oid, striperLockName, l.cookie, striperLockDescription, timeout)
		if err == nil {
			return l.onLocked(ctx)
		}
		if !isBusy(err) {
			l.setState(StateUnlocked)

			return fmt.Errorf("failed to lock %s: %w", l.oid, err)
		}

		if l.metrics != nil {
			l.metrics.LeaseBusy.Inc()
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			l.setState(StateUnlocked)

			return errs.ErrBusy
		}

		if time.Since(lastDiagnostic) >= lockDiagnosticInterval {
			if report, rerr := l.ListLockers(ctx); rerr == nil {
				log.DebugLog(ctx, "lock %s on %s busy, current lockers: %s", striperLockName, l.oid, report.String())
			}
			lastDiagnostic = time.Now()
		}

		select {
		case <-ctx.Done():
			l.setState(StateUnlocked)

			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func isBusy(err error) bool {
	return errors.Is(err, radosio.ErrBusy)
}

func (l *Lease) onLocked(ctx context.Context) error {
	l.mu.Lock()
	l.state = StateLocked
	l.lastRenewal = time.Now()
	m := l.metrics
	l.mu.Unlock()

	if m != nil {
		m.LeaseAcquires.Inc()
	}

	if l.refresher != nil {
		if err := l.refresher.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh metadata after acquiring lease: %w", err)
		}
	}

	l.startKeeper()

	return nil
}

// startKeeper launches the background renewal task if one is not already
// running. One keeper goroutine exists per locked handle.
func (l *Lease) startKeeper() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.keeperCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.keeperCancel = cancel
	l.keeperDone = make(chan struct{})

	go l.keeperLoop(ctx)
}

func (l *Lease) keeperLoop(ctx context.Context) {
	defer close(l.keeperDone)

	ticker := time.NewTicker(l.renewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.renewOnce(ctx)
		}
	}
}

func (l *Lease) renewOnce(ctx context.Context) {
	err := l.adapter.ExclusiveLock(ctx, l.oid, striperLockName, l.cookie, striperLockDescription, 0)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateLocked {
		return
	}

	if err == nil {
		l.lastRenewal = time.Now()
		log.DebugLog(ctx, "renewed lease %s on %s", striperLockName, l.oid)
		if l.metrics != nil {
			l.metrics.LeaseRenewals.Inc()
		}

		return
	}

	log.WarningLog(ctx, "failed to renew lease %s on %s: %v", striperLockName, l.oid, err)

	if time.Since(l.lastRenewal) > l.renewalTimeout {
		log.ErrorLog(ctx, "lease %s on %s expired (no successful renewal in %s), marking lost",
			striperLockName, l.oid, l.renewalTimeout)
		l.state = StateLost
		if l.metrics != nil {
			l.metrics.LeaseLost.Inc()
		}
	}
}

// Unlock flushes the flusher (if any), releases the lock, and stops the
// keeper. Must be called from StateLocked.
func (l *Lease) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateLocked {
		state := l.state
		l.mu.Unlock()
		if state == StateLost {
			return errs.ErrLostLease
		}

		return fmt.Errorf("unlock called while not locked (state=%s)", state)
	}
	l.state = StateUnlocking
	l.mu.Unlock()

	var flushErr error
	if l.flusher != nil {
		flushErr = l.flusher.Flush(ctx)
	}

	if err := l.adapter.Unlock(ctx, l.oid, striperLockName, l.cookie); err != nil {
		log.WarningLog(ctx, "failed to release lock %s on %s: %v", striperLockName, l.oid, err)
	}

	l.stopKeeper()
	l.setState(StateUnlocked)

	if flushErr != nil {
		return fmt.Errorf("flush before unlock failed: %w", flushErr)
	}

	return nil
}

// Close performs a best-effort unlock without requiring the lease to
// still be in StateLocked, for use from a handle destructor: it never
// returns an error the caller could reasonably act on.
func (l *Lease) Close(ctx context.Context) {
	if l.IsLocked() {
		if err := l.Unlock(ctx); err != nil {
			log.WarningLog(ctx, "best-effort unlock on close failed: %v", err)
		}

		return
	}
	l.stopKeeper()
}

func (l *Lease) stopKeeper() {
	l.mu.Lock()
	cancel := l.keeperCancel
	done := l.keeperDone
	l.keeperCancel = nil
	l.keeperDone = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Lease) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// CheckMutable returns errs.ErrLostLease if the lease is in StateLost,
// and nil otherwise. Striper calls this before any mutating operation so
// that lease loss is never silently hidden from the caller.
func (l *Lease) CheckMutable() error {
	if l.State() == StateLost {
		return errs.ErrLostLease
	}

	return nil
}
