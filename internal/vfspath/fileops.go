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

package vfspath

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceph/go-rados-striper/internal/errs"
	"github.com/ceph/go-rados-striper/internal/striper"
)

// LockLevel mirrors SQLite's five-level file locking protocol. The striper
// only ever takes one physical lock; File collapses every level above
// LockNone onto it and only tracks which level the caller last requested -
// SHARED and RESERVED map to the same physical exclusive lock.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// File is the contract a SQLite-style VFS file implementation is built
// against: every method name and signature below corresponds 1:1 to a
// sqlite3_io_methods entry. It is deliberately not wired to a cgo
// sqlite3_io_methods table - that glue is out of scope - but every
// operation a VFS shim would need is implemented here against a
// *striper.Striper.
type File struct {
	s     *striper.Striper
	level LockLevel
}

// NewFile wraps an already-constructed striper handle as a VFS-style file.
// The caller is responsible for having called Create or Open first.
func NewFile(s *striper.Striper) *File {
	return &File{s: s}
}

// Open performs the Open file-op: create (if creating) then open, retrying
// once after wait_for_latest_map on not-found - that retry already lives
// inside striper.Open, so this just sequences the two calls.
func Open(ctx context.Context, s *striper.Striper, create bool) error {
	if create {
		if err := s.Create(ctx); err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
			return err
		}
	}

	return s.Open(ctx)
}

// Close performs the Close file-op: unlock (which flushes) then release
// the handle's keeper goroutine.
func (f *File) Close(ctx context.Context) error {
	if f.level != LockNone {
		if err := f.Unlock(ctx); err != nil {
			return err
		}
	}
	f.s.Close(ctx)

	return nil
}

// Read performs the Read(buf, off, n) file-op. A short read is the
// caller's responsibility to zero-fill; File returns the striper's
// *striper.ShortReadError unchanged so the caller can do so.
func (f *File) Read(ctx context.Context, buf []byte, off uint64) (int, error) {
	return f.s.Read(ctx, buf, off)
}

// Write performs the Write(buf, off, n) file-op.
func (f *File) Write(ctx context.Context, buf []byte, off uint64) (int, error) {
	return f.s.Write(ctx, buf, off)
}

// Truncate performs the Truncate(n) file-op.
func (f *File) Truncate(ctx context.Context, size uint64) error {
	return f.s.Truncate(ctx, size)
}

// Sync performs the Sync file-op.
func (f *File) Sync(ctx context.Context) error {
	return f.s.Flush(ctx)
}

// FileSize performs the FileSize file-op.
func (f *File) FileSize() uint64 {
	return f.s.Stat()
}

// SectorSize is the constant reported for the SectorSize file-op.
func (f *File) SectorSize() int {
	return striper.SectorSize
}

// Lock performs the Lock(level) file-op: the physical exclusive lease is
// acquired on the first transition above LockNone; further escalation just
// records the new level.
func (f *File) Lock(ctx context.Context, level LockLevel, timeout time.Duration) error {
	if level <= LockNone {
		return fmt.Errorf("vfspath: Lock called with level %d, want > LockNone", level)
	}
	if f.level == LockNone {
		if err := f.s.Lock(ctx, timeout); err != nil {
			return err
		}
	}
	f.level = level

	return nil
}

// Unlock performs the Unlock(level=none) file-op.
func (f *File) Unlock(ctx context.Context) error {
	if f.level == LockNone {
		return nil
	}
	f.level = LockNone

	return f.s.Unlock(ctx)
}

// CheckReservedLock performs the CheckReservedLock file-op via list_lockers:
// it reports whether any client other than this handle holds the lease.
func (f *File) CheckReservedLock(ctx context.Context) (bool, error) {
	report, err := f.s.ListLockers(ctx)
	if err != nil {
		return false, err
	}
	if !report.Exclusive || len(report.Lockers) == 0 {
		return false, nil
	}
	for _, lk := range report.Lockers {
		if lk.Cookie != f.s.Cookie() {
			return true, nil
		}
	}

	return false, nil
}

// Delete performs the Delete file-op: lock, open, remove.
func Delete(ctx context.Context, s *striper.Striper, timeout time.Duration) error {
	if err := s.Lock(ctx, timeout); err != nil {
		return err
	}
	if err := s.Open(ctx); err != nil {
		return err
	}

	return s.Remove(ctx)
}

// Access performs the Access file-op: open and translate not-found to
// "does not exist" rather than an error the caller should surface.
func Access(ctx context.Context, s *striper.Striper) (bool, error) {
	err := s.Open(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}

	return false, err
}
