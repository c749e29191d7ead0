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

// Package radosio defines the capability set the striper and lease
// packages consume from an object store, and provides two
// implementations: a go-ceph-backed Adapter talking to a real RADOS
// cluster, and an in-memory Fake for tests. Connection setup, pool
// handling, and placement/retry policy at the RPC layer are explicitly
// out of scope — callers hand this package an already-open
// *rados.IOContext (or, in tests, nothing at all).
package radosio

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Adapter implementations. Higher layers
// (striper, lease) translate these into their own exported error kinds;
// this package stays independent of them to avoid an import cycle.
var (
	ErrNotFound = errors.New("radosio: object not found")
	ErrExists   = errors.New("radosio: object already exists")
	ErrBusy     = errors.New("radosio: lock held by another client")
)

// Completion is returned by every asynchronous adapter operation. The
// adapter guarantees it fires exactly once; Wait may be called any number
// of times after that and returns the same result. A Completion that is
// dropped without a prior Wait is a programming error — implementations
// built on a handle-based native library (like librados' AioCompletion)
// should assert this in tests via a finalizer or leak check, not at
// runtime in production.
type Completion interface {
	// Wait blocks until the operation completes (or ctx is done) and
	// returns its result.
	Wait(ctx context.Context) error
}

// ReadCompletion is the Completion returned by ReadExtent; once Wait
// succeeds, BytesRead reports how many bytes of the destination buffer
// were actually filled (it may be short of the buffer length at EOF).
type ReadCompletion interface {
	Completion
	BytesRead() int
}

// WriteStepKind identifies one operation within a CompoundWrite.
type WriteStepKind int

// The compound write step kinds a write operation can be built from.
const (
	StepCreateExclusive WriteStepKind = iota
	StepSetXattr
	StepTruncate
	StepRemove
)

// WriteStep is one operation in an ordered, atomically-applied compound
// write. Build a slice with the CreateExclusive/SetXattr/Truncate/Remove
// constructors below.
type WriteStep struct {
	Kind  WriteStepKind
	Key   string // SetXattr only
	Value []byte // SetXattr only
	Size  uint64 // Truncate only
}

// CreateExclusiveStep fails the whole compound op with ErrExists if the
// target object already exists.
func CreateExclusiveStep() WriteStep { return WriteStep{Kind: StepCreateExclusive} }

// SetXattrStep sets a single extended attribute.
func SetXattrStep(key string, value []byte) WriteStep {
	return WriteStep{Kind: StepSetXattr, Key: key, Value: value}
}

// TruncateStep truncates (or, if size 0, effectively zeroes) the object's
// data, independent of any xattrs set in the same compound op.
func TruncateStep(size uint64) WriteStep {
	return WriteStep{Kind: StepTruncate, Size: size}
}

// RemoveStep removes the object as part of a compound op.
func RemoveStep() WriteStep { return WriteStep{Kind: StepRemove} }

// LockerInfo identifies one holder of a (possibly shared, though this
// module only ever takes exclusive locks) named lock.
type LockerInfo struct {
	Client  string
	Cookie  string
	Address string
}

// LockerList is the result of ListLockers.
type LockerList struct {
	Exclusive bool
	Tag       string
	Lockers   []LockerInfo
}

// Adapter is the capability set the striper and lease packages require of
// an object store. It is intentionally narrow: no placement, no pool
// enumeration, no cluster administration.
type Adapter interface {
	// ReadExtent asynchronously reads up to len(buf) bytes from oid at
	// offset into buf. ErrNotFound if oid does not exist.
	ReadExtent(ctx context.Context, oid string, offset uint64, buf []byte) (ReadCompletion, error)

	// WriteExtent asynchronously writes data to oid at offset, without
	// truncating bytes beyond offset+len(data).
	WriteExtent(ctx context.Context, oid string, offset uint64, data []byte) (Completion, error)

	// RemoveObject asynchronously removes oid. Callers on shrink paths
	// treat a Wait result of ErrNotFound as success.
	RemoveObject(ctx context.Context, oid string) (Completion, error)

	// CompoundWrite applies steps to oid as a single atomic,
	// all-or-nothing server-side transaction.
	CompoundWrite(ctx context.Context, oid string, steps []WriteStep) (Completion, error)

	// CompoundRead fetches the named xattrs from oid in one round trip.
	// The returned map contains only keys that were present; a missing
	// key is not itself an error, but oid not existing is ErrNotFound.
	CompoundRead(ctx context.Context, oid string, xattrKeys []string) (map[string][]byte, error)

	// ExclusiveLock attempts to take the named lock on oid under cookie.
	// Returns ErrBusy if another cookie currently holds it.
	ExclusiveLock(ctx context.Context, oid, lockName, cookie, description string, timeout time.Duration) error

	// Unlock releases the named lock held under cookie. Not holding the
	// lock is not an error (idempotent).
	Unlock(ctx context.Context, oid, lockName, cookie string) error

	// ListLockers reports the current holders of the named lock.
	ListLockers(ctx context.Context, oid, lockName string) (LockerList, error)

	// WaitForLatestMap hints the client to refresh cluster placement
	// state before a retried operation. A no-op for adapters without a
	// placement concept.
	WaitForLatestMap(ctx context.Context) error
}
