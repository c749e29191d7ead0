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

package striper

import (
	"fmt"

	"github.com/ceph/go-rados-striper/internal/errs"
)

// Sentinel error kinds, re-exported from the shared errs package so
// callers of this package never need to import it directly. Match with
// errors.Is; wrap with fmt.Errorf("...: %w", ErrX) at the point the
// condition is first detected.
var (
	ErrNotFound      = errs.ErrNotFound
	ErrAlreadyExists = errs.ErrAlreadyExists
	ErrBusy          = errs.ErrBusy
	ErrLostLease     = errs.ErrLostLease
	ErrBadMetadata   = errs.ErrBadMetadata
	ErrAdapterIO     = errs.ErrAdapterIO
	ErrUnsupported   = errs.ErrUnsupported
)

// ShortReadError reports a read that returned fewer bytes than requested
// because the logical file ends inside the requested range. The striper
// does not zero-fill past EOF; that is the caller's responsibility.
type ShortReadError struct {
	Requested int
	Read      int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read: requested %d bytes, read %d", e.Requested, e.Read)
}

// ShortWriteError reports a write that was only partially accepted because
// the adapter rejected an extent before it was submitted. Bytes accepted
// before the rejection are still reported to the caller via the striper's
// Write return value; this error is only surfaced when Accepted < Requested.
type ShortWriteError struct {
	Requested int
	Accepted  int
	Cause     error
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write: requested %d bytes, accepted %d: %v", e.Requested, e.Accepted, e.Cause)
}

func (e *ShortWriteError) Unwrap() error {
	return e.Cause
}
