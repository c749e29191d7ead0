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
)

// Xattr keys on the head object.
const (
	XattrSize             = "striper.size"
	XattrAllocated        = "striper.allocated"
	XattrVersion          = "striper.version"
	XattrLayoutStripeUnit = "striper.layout.stripe_unit"
	XattrLayoutStripeCnt  = "striper.layout.stripe_count"
	XattrLayoutObjectSize = "striper.layout.object_size"
)

// LockName and LockDescription name the exclusive lease rooted on the head
// object.
const (
	LockName        = "striper.lock"
	LockDescription = "SimpleRADOSStriper"
)

// uint64Width is the fixed encoding width of every xattr value: 16 ASCII
// decimal digits, zero-padded, no sign. This is externally observable and
// must never change once Create writes them.
const uint64Width = 16

// EncodeUint64 renders v as the fixed-width decimal xattr encoding.
func EncodeUint64(v uint64) []byte {
	return []byte(fmt.Sprintf("%0*d", uint64Width, v))
}

// DecodeUint64 parses the fixed-width decimal xattr encoding. It rejects
// any value that is not exactly 16 ASCII decimal digits: no sign, no
// trailing whitespace, no other length.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != uint64Width {
		return 0, fmt.Errorf("%w: xattr value has length %d, want %d", ErrBadMetadata, len(b), uint64Width)
	}

	var v uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: xattr value %q is not decimal", ErrBadMetadata, b)
		}
		v = v*10 + uint64(c-'0')
	}

	return v, nil
}

// Layout is the immutable, create-time layout of a logical file. Only pure
// concatenation (stripe_unit = stripe_count = 1) is supported; object_size
// must be a power of two.
type Layout struct {
	StripeUnit  uint64
	StripeCount uint64
	ObjectSize  uint64
}

// DefaultLayout returns the fixed layout used by every file this module
// creates: stripe_unit=1, stripe_count=1 (no interleaving), object_size
// per the supplied config.
func DefaultLayout(cfg Config) Layout {
	return Layout{
		StripeUnit:  1,
		StripeCount: 1,
		ObjectSize:  cfg.ObjectSize(),
	}
}

// Metadata is the in-memory mirror of the four head-object xattrs, plus
// the convenience of the derived ExtentMapper. It holds no lock and no
// adapter reference; Striper owns the transaction logic that keeps it
// consistent with the head object.
type Metadata struct {
	Size      uint64
	Allocated uint64
	Version   uint64
	Layout    Layout
}

// Validate checks the invariants that are checkable
// from the in-memory values alone (size<=allocated, allocated is a
// multiple of object_size or zero). It does not check tail-object
// materialisation, which requires the adapter.
func (m Metadata) Validate() error {
	if m.Size > m.Allocated {
		return fmt.Errorf("%w: size %d exceeds allocated %d", ErrBadMetadata, m.Size, m.Allocated)
	}
	if m.Layout.ObjectSize == 0 {
		return fmt.Errorf("%w: object_size is zero", ErrBadMetadata)
	}
	if m.Allocated != 0 && m.Allocated%m.Layout.ObjectSize != 0 {
		return fmt.Errorf("%w: allocated %d is not a multiple of object_size %d",
			ErrBadMetadata, m.Allocated, m.Layout.ObjectSize)
	}

	return nil
}
