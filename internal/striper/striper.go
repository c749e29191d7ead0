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

// Package striper implements the large-object striping layer: a logical
// named file backed by a head object (xattr-carrying metadata plus stripe
// 0's bytes) and zero or more tail objects, grown and shrunk by a fixed
// policy, with an exclusive lease (internal/lease) guarding mutation.
package striper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ceph/go-rados-striper/internal/lease"
	"github.com/ceph/go-rados-striper/internal/log"
	"github.com/ceph/go-rados-striper/internal/metrics"
	"github.com/ceph/go-rados-striper/internal/radosio"
)

// Striper is a handle on one logical named file. It is not safe for
// concurrent use by multiple goroutines without external serialisation,
// single-caller-per-handle, like the lease it composes.
type Striper struct {
	cfg     Config
	adapter radosio.Adapter
	mapper  ExtentMapper
	name    string
	headOid string
	lease   *lease.Lease

	meta      Metadata
	sizeDirty bool

	updatesMu sync.Mutex
	updates   []radosio.Completion

	metrics *metrics.Collector
}

// SetMetrics attaches a Collector that Read/Write/setmeta/allocshrink
// increment, and forwards it to the embedded lease. Optional; a nil
// Collector (the default) disables instrumentation.
func (s *Striper) SetMetrics(m *metrics.Collector) {
	s.metrics = m
	s.lease.SetMetrics(m)
}

// Metrics returns the Collector most recently attached via SetMetrics, or
// nil if none was attached.
func (s *Striper) Metrics() *metrics.Collector {
	return s.metrics
}

var (
	_ lease.Flusher   = (*Striper)(nil)
	_ lease.Refresher = (*Striper)(nil)
)

// New constructs a handle on the logical file named name. It does not touch
// the object store; call Create or Open (then Lock) before any I/O.
func New(cfg Config, adapter radosio.Adapter, name string) (*Striper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid striper config: %w", err)
	}

	s := &Striper{
		cfg:     cfg,
		adapter: adapter,
		mapper:  NewExtentMapper(cfg.ObjectSizeLog2),
		name:    name,
		headOid: HeadOid(name),
	}
	s.lease = lease.New(adapter, s.headOid, cfg.LockRenewalInterval, cfg.LockRenewalTimeout, s, s)

	return s, nil
}

// Name returns the logical file name this handle was constructed with.
func (s *Striper) Name() string { return s.name }

// Lock acquires the exclusive lease on the head object, retrying until
// timeout elapses (0 retries forever). See internal/lease.
func (s *Striper) Lock(ctx context.Context, timeout time.Duration) error {
	return s.lease.Lock(ctx, timeout)
}

// Unlock flushes pending state and releases the lease.
func (s *Striper) Unlock(ctx context.Context) error {
	return s.lease.Unlock(ctx)
}

// IsLocked reports whether this handle currently believes it holds the
// lease.
func (s *Striper) IsLocked() bool { return s.lease.IsLocked() }

// Cookie returns this handle's lease cookie, for comparing against
// ListLockers results.
func (s *Striper) Cookie() string { return s.lease.Cookie() }

// ListLockers reports the current holders of the head object's lease.
func (s *Striper) ListLockers(ctx context.Context) (lease.LockerReport, error) {
	return s.lease.ListLockers(ctx)
}

// Close performs a best-effort unlock, for use from a handle destructor.
func (s *Striper) Close(ctx context.Context) {
	s.lease.Close(ctx)
}

// Create makes a new logical file: an exclusive-create of the head object
// with all metadata xattrs set to zero/default in one atomic compound
// write. Returns ErrAlreadyExists if the head object is already present.
func (s *Striper) Create(ctx context.Context) error {
	layout := DefaultLayout(s.cfg)
	steps := []radosio.WriteStep{
		radosio.CreateExclusiveStep(),
		radosio.SetXattrStep(XattrVersion, EncodeUint64(0)),
		radosio.SetXattrStep(XattrSize, EncodeUint64(0)),
		radosio.SetXattrStep(XattrAllocated, EncodeUint64(0)),
		radosio.SetXattrStep(XattrLayoutStripeUnit, EncodeUint64(layout.StripeUnit)),
		radosio.SetXattrStep(XattrLayoutStripeCnt, EncodeUint64(layout.StripeCount)),
		radosio.SetXattrStep(XattrLayoutObjectSize, EncodeUint64(layout.ObjectSize)),
	}

	completion, err := s.adapter.CompoundWrite(ctx, s.headOid, steps)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrAdapterIO, s.headOid, err)
	}
	if err := completion.Wait(ctx); err != nil {
		if errors.Is(err, radosio.ErrExists) {
			return fmt.Errorf("%s: %w", s.name, ErrAlreadyExists)
		}

		return fmt.Errorf("%w: create %s: %v", ErrAdapterIO, s.headOid, err)
	}

	s.meta = Metadata{Layout: layout}
	s.sizeDirty = false

	return nil
}

// Open loads size, allocated and version from the head object's xattrs,
// retrying once after a WaitForLatestMap hint if the head object appears
// absent (stale placement after a recent create on another client). The
// layout xattrs are not re-read: layout is immutable after create, so this
// handle trusts its own Config.
func (s *Striper) Open(ctx context.Context) error {
	keys := []string{XattrSize, XattrAllocated, XattrVersion}

	results, err := s.adapter.CompoundRead(ctx, s.headOid, keys)
	if err != nil {
		if !errors.Is(err, radosio.ErrNotFound) {
			return fmt.Errorf("%w: open %s: %v", ErrAdapterIO, s.headOid, err)
		}

		log.DebugLog(ctx, "head object %s not found, retrying after WaitForLatestMap", s.headOid)
		if werr := s.adapter.WaitForLatestMap(ctx); werr != nil {
			return fmt.Errorf("%w: wait_for_latest_map before retrying open of %s: %v", ErrAdapterIO, s.headOid, werr)
		}

		results, err = s.adapter.CompoundRead(ctx, s.headOid, keys)
		if err != nil {
			if errors.Is(err, radosio.ErrNotFound) {
				return fmt.Errorf("%s: %w", s.name, ErrNotFound)
			}

			return fmt.Errorf("%w: open %s: %v", ErrAdapterIO, s.headOid, err)
		}
	}

	size := s.decodeRequiredXattr(results, XattrSize)
	allocated := s.decodeRequiredXattr(results, XattrAllocated)
	version := s.decodeRequiredXattr(results, XattrVersion)

	meta := Metadata{
		Size:      size,
		Allocated: allocated,
		Version:   version,
		Layout:    DefaultLayout(s.cfg),
	}
	if err := meta.Validate(); err != nil {
		return err
	}

	s.meta = meta
	s.sizeDirty = false

	log.DebugLog(ctx, "opened %s: size=%d allocated=%d version=%d", s.name, size, allocated, version)

	return nil
}

// decodeRequiredXattr parses a xattr that a successful CompoundRead on an
// existing head object must have returned in valid form. A missing key or
// a malformed value at this point violates an internal invariant (the head
// object was created, and only ever written, by this package's own
// setmeta/Create) rather than a condition a caller can recover from, so it
// panics instead of returning an error - mirroring the reference
// implementation's ceph_assert on the parsed xattr string.
func (s *Striper) decodeRequiredXattr(results map[string][]byte, key string) uint64 {
	raw, ok := results[key]
	if !ok {
		panic(fmt.Sprintf("striper: head object %s is missing required xattr %s", s.headOid, key))
	}

	v, err := DecodeUint64(raw)
	if err != nil {
		panic(fmt.Sprintf("striper: head object %s has corrupt xattr %s: %v", s.headOid, key, err))
	}

	return v
}

// Refresh satisfies lease.Refresher: it re-reads metadata after acquiring
// the lease, since another client may have mutated the file while this
// handle did not hold it.
func (s *Striper) Refresh(ctx context.Context) error {
	return s.Open(ctx)
}

// Stat returns the logical file's current size, from the in-memory mirror
// (no round trip).
func (s *Striper) Stat() uint64 {
	return s.meta.Size
}

// Read fills p with up to len(p) bytes starting at off, fanning out one
// adapter read per stripe object touched and waiting on all of them
// concurrently. If the logical file ends inside the requested range, Read
// returns the bytes available and a *ShortReadError; it never zero-fills.
func (s *Striper) Read(ctx context.Context, p []byte, off uint64) (int, error) {
	if s.metrics != nil {
		s.metrics.Reads.Inc()
		defer prometheus.NewTimer(s.metrics.OpLatency.WithLabelValues("read")).ObserveDuration()
	}
	if len(p) == 0 {
		return 0, nil
	}

	avail := uint64(0)
	if off < s.meta.Size {
		avail = s.meta.Size - off
	}
	want := uint64(len(p))
	if avail < want {
		want = avail
	}
	if want == 0 {
		if s.metrics != nil {
			s.metrics.ShortReads.Inc()
		}

		return 0, &ShortReadError{Requested: len(p), Read: 0}
	}

	extents := s.mapper.Split(s.name, off, want)

	g, gctx := errgroup.WithContext(ctx)
	pos := uint64(0)
	for _, e := range extents {
		e := e
		dst := p[pos : pos+e.Length]
		pos += e.Length

		g.Go(func() error {
			rc, err := s.adapter.ReadExtent(gctx, e.Oid, e.Offset, dst)
			if err != nil {
				if errors.Is(err, radosio.ErrNotFound) {
					return nil // sparse tail object: treated as zero bytes read, not an error
				}

				return err
			}

			return rc.Wait(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("%w: read %s at %d~%d: %v", ErrAdapterIO, s.name, off, want, err)
	}

	if s.metrics != nil {
		s.metrics.BytesRead.Add(float64(want))
	}

	n := int(want)
	if n < len(p) {
		if s.metrics != nil {
			s.metrics.ShortReads.Inc()
		}

		return n, &ShortReadError{Requested: len(p), Read: n}
	}

	return n, nil
}

// Write accepts data at off, growing the backing allocation first if
// necessary. A write to an unheld or lost lease is rejected. The byte
// count it returns may be less than len(data) if an adapter error aborts
// the per-extent submission loop partway through; bytes before the error
// are still durable once Flush succeeds.
func (s *Striper) Write(ctx context.Context, data []byte, off uint64) (int, error) {
	if s.metrics != nil {
		s.metrics.Writes.Inc()
		defer prometheus.NewTimer(s.metrics.OpLatency.WithLabelValues("write")).ObserveDuration()
	}
	if err := s.lease.CheckMutable(); err != nil {
		return 0, err
	}
	if !s.lease.IsLocked() {
		return 0, fmt.Errorf("write requires the handle to hold the lease")
	}
	if len(data) == 0 {
		return 0, nil
	}

	if s.meta.Allocated < off+uint64(len(data)) {
		if err := s.setmeta(ctx, off+uint64(len(data)), false); err != nil {
			if s.metrics != nil {
				s.metrics.ShortWrites.Inc()
			}

			return 0, &ShortWriteError{Requested: len(data), Accepted: 0, Cause: err}
		}
	}

	extents := s.mapper.Split(s.name, off, uint64(len(data)))

	written := uint64(0)
	var submitErr error
	for _, e := range extents {
		src := data[written : written+e.Length]

		completion, err := s.adapter.WriteExtent(ctx, e.Oid, e.Offset, src)
		if err != nil {
			submitErr = err

			break
		}

		s.updatesMu.Lock()
		s.updates = append(s.updates, completion)
		s.updatesMu.Unlock()

		written += e.Length
	}

	// The in-memory size is bumped to
	// off+len(data) whenever that exceeds the current size, even if the
	// per-extent loop above stopped short. A short write is only visible
	// through the returned byte count and error, not through Stat.
	if end := off + uint64(len(data)); s.meta.Size < end {
		s.meta.Size = end
		s.sizeDirty = true
	}

	if s.metrics != nil {
		s.metrics.BytesWritten.Add(float64(written))
	}

	if submitErr != nil {
		if s.metrics != nil {
			s.metrics.ShortWrites.Inc()
		}

		return int(written), &ShortWriteError{Requested: len(data), Accepted: int(written), Cause: submitErr}
	}

	return int(written), nil
}

// Truncate sets the logical size to size. Growing truncates are not
// implemented: the VFS file contract this module serves never issues one.
func (s *Striper) Truncate(ctx context.Context, size uint64) error {
	if err := s.lease.CheckMutable(); err != nil {
		return err
	}
	if size > s.meta.Size {
		return fmt.Errorf("%w: growing truncate (%d -> %d) is not supported", ErrUnsupported, s.meta.Size, size)
	}

	return s.setmeta(ctx, size, true)
}

// Remove waits for all pending writes, shrinks the allocation to zero,
// removes the head object, and releases the lease. The handle must hold
// the lease.
func (s *Striper) Remove(ctx context.Context) error {
	if !s.lease.IsLocked() {
		return fmt.Errorf("remove requires the handle to hold the lease")
	}

	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.setmeta(ctx, 0, true); err != nil {
		return err
	}

	completion, err := s.adapter.CompoundWrite(ctx, s.headOid, []radosio.WriteStep{radosio.RemoveStep()})
	if err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrAdapterIO, s.headOid, err)
	}
	if err := completion.Wait(ctx); err != nil && !errors.Is(err, radosio.ErrNotFound) {
		return fmt.Errorf("%w: remove %s: %v", ErrAdapterIO, s.headOid, err)
	}

	return s.lease.Unlock(ctx)
}

// Flush satisfies lease.Flusher. If the size xattr is dirty it is written
// first (this may itself trigger a shrink); then every retained write
// completion is waited on concurrently. On failure the retained list is
// left untouched so a later Flush retries the same completions - Wait is
// idempotent per the adapter's contract.
func (s *Striper) Flush(ctx context.Context) error {
	if s.sizeDirty {
		if err := s.setmeta(ctx, s.meta.Size, true); err != nil {
			return err
		}
	}

	s.updatesMu.Lock()
	pending := append([]radosio.Completion(nil), s.updates...)
	s.updatesMu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range pending {
		c := c
		g.Go(func() error { return c.Wait(gctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: flush %s: %v", ErrAdapterIO, s.name, err)
	}

	s.updatesMu.Lock()
	s.updates = nil
	s.updatesMu.Unlock()

	return nil
}

// setmeta is the metadata transaction at the heart of every size-changing
// operation. If new_size would exceed the current
// allocation, allocated is grown first and that growth is waited on
// synchronously, so no write can race past the new allocation boundary. A
// size-only update is submitted but not waited on here; its completion is
// retained for Flush. Every call that writes anything bumps version by
// exactly one, regardless of how many of the two xattrs actually changed;
// a call with nothing to write returns without touching the head object.
func (s *Striper) setmeta(ctx context.Context, newSize uint64, updateSize bool) error {
	growing := newSize > s.meta.Allocated

	var newAllocated uint64
	steps := make([]radosio.WriteStep, 0, 3)
	if growing {
		newAllocated = s.growTarget()
		steps = append(steps, radosio.SetXattrStep(XattrAllocated, EncodeUint64(newAllocated)))
		if s.metrics != nil {
			s.metrics.Grows.Inc()
		}
	}
	if updateSize {
		steps = append(steps, radosio.SetXattrStep(XattrSize, EncodeUint64(newSize)))
	}
	if len(steps) == 0 {
		return nil
	}

	newVersion := s.meta.Version + 1
	steps = append(steps, radosio.SetXattrStep(XattrVersion, EncodeUint64(newVersion)))

	completion, err := s.adapter.CompoundWrite(ctx, s.headOid, steps)
	if err != nil {
		return fmt.Errorf("%w: setmeta %s: %v", ErrAdapterIO, s.headOid, err)
	}

	if growing {
		// We need to wait so we don't leave dangling extents beyond the
		// allocation a concurrent reader believes exists.
		if err := completion.Wait(ctx); err != nil {
			return fmt.Errorf("%w: setmeta %s: %v", ErrAdapterIO, s.headOid, err)
		}
		s.meta.Allocated = newAllocated
	} else {
		s.updatesMu.Lock()
		s.updates = append(s.updates, completion)
		s.updatesMu.Unlock()
	}

	s.meta.Version = newVersion

	if updateSize {
		s.meta.Size = newSize
		s.sizeDirty = false

		return s.maybeShrink(ctx)
	}

	return nil
}

// growTarget computes the new allocation when growing: min_growth rounded
// up from the file's *current* logical size (before whatever write
// triggered this grow is applied). Using the pre-write size rather than
// the post-write size is deliberate and preserved from the reference
// implementation.
func (s *Striper) growTarget() uint64 {
	mask := s.cfg.mask()

	return s.cfg.MinGrowthBytes + ((s.meta.Size + mask) &^ mask)
}

// maybeShrink is checked after every size-updating setmeta. A logical size
// of zero always shrinks the allocation all the way to zero; otherwise the
// allocation is only reclaimed once it overshoots the grow target by more
// than a full min_growth increment, so a write/truncate/write cycle near a
// stripe boundary does not thrash tail-object creation and deletion.
func (s *Striper) maybeShrink(ctx context.Context) error {
	if s.meta.Size == 0 {
		if s.meta.Allocated > 0 {
			return s.allocshrink(ctx, 0)
		}

		return nil
	}

	mask := s.cfg.mask()
	target := s.cfg.MinGrowthBytes + ((s.meta.Size + mask) &^ mask)
	if s.meta.Allocated > target && (s.meta.Allocated-target) > s.cfg.MinGrowthBytes {
		return s.allocshrink(ctx, target)
	}

	return nil
}

// allocshrink removes every tail object whose stripe index is at or beyond
// floor(max(a, object_size)/object_size) - stripe 0, the head, is never
// removed here - waits for all the removes (tolerating ErrNotFound), then
// commits the new allocated value and a version bump as a single
// synchronous compound write.
func (s *Striper) allocshrink(ctx context.Context, a uint64) error {
	if a > s.meta.Allocated {
		return fmt.Errorf("striper: allocshrink target %d exceeds current allocation %d", a, s.meta.Allocated)
	}

	objectSize := s.cfg.ObjectSize()
	prune := a
	if prune < objectSize {
		prune = objectSize
	}
	firstStripe := prune / objectSize
	lastStripe := s.mapper.StripeCount(s.meta.Allocated)

	g, gctx := errgroup.WithContext(ctx)
	for stripe := firstStripe; stripe < lastStripe; stripe++ {
		oid := StripeOid(s.name, stripe)
		g.Go(func() error {
			completion, err := s.adapter.RemoveObject(gctx, oid)
			if err != nil {
				if errors.Is(err, radosio.ErrNotFound) {
					return nil
				}

				return err
			}
			if err := completion.Wait(gctx); err != nil && !errors.Is(err, radosio.ErrNotFound) {
				return err
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: allocshrink %s: %v", ErrAdapterIO, s.name, err)
	}

	newVersion := s.meta.Version + 1
	steps := []radosio.WriteStep{
		radosio.SetXattrStep(XattrAllocated, EncodeUint64(a)),
		radosio.SetXattrStep(XattrVersion, EncodeUint64(newVersion)),
	}
	completion, err := s.adapter.CompoundWrite(ctx, s.headOid, steps)
	if err != nil {
		return fmt.Errorf("%w: allocshrink commit %s: %v", ErrAdapterIO, s.headOid, err)
	}
	if err := completion.Wait(ctx); err != nil {
		return fmt.Errorf("%w: allocshrink commit %s: %v", ErrAdapterIO, s.headOid, err)
	}

	s.meta.Allocated = a
	s.meta.Version = newVersion

	if s.metrics != nil {
		s.metrics.Shrinks.Inc()
	}

	log.DebugLog(ctx, "shrank %s allocation to %d (stripes %d..%d removed)", s.name, a, firstStripe, lastStripe-1)

	return nil
}
