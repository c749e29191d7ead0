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

// Package errs holds the module-wide sentinel error kinds shared by the
// striper and lease layers. It exists as its own package (rather than
// living in striper)
// so that both striper and lease can depend on it without lease needing
// to import striper - striper composes a *lease.Lease, so the dependency
// only works in one direction.
package errs

import "errors"

var (
	// ErrNotFound: the head object, or transiently a tail object, is
	// missing when it was expected to exist.
	ErrNotFound = errors.New("object not found")

	// ErrAlreadyExists: Create found the head object already present.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrBusy: lock contention; only surfaced after Lock's deadline
	// elapses.
	ErrBusy = errors.New("lock is held by another client")

	// ErrLostLease: the lease expired or the client was blocklisted.
	// Terminal for the handle.
	ErrLostLease = errors.New("lease lost or client blocklisted")

	// ErrBadMetadata: an xattr failed to parse, or parsed to values that
	// violate the size<=allocated invariant.
	ErrBadMetadata = errors.New("corrupt or inconsistent striper metadata")

	// ErrAdapterIO: an unclassified object-store error.
	ErrAdapterIO = errors.New("object-store I/O error")

	// ErrInvalidPath: the VFS path grammar was violated.
	ErrInvalidPath = errors.New("invalid striper path")

	// ErrUnsupported: a deliberately unimplemented operation, such as a
	// growing truncate or a WAL-suffixed path.
	ErrUnsupported = errors.New("operation not supported")
)
