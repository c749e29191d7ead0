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

import "fmt"

// headStripe is the stripe index of the head object, whose name carries it
// as the 16-hex-digit suffix.
const headStripe = 0

// Extent is a (sub-object, sub-offset, sub-length) triple derived from a
// logical (offset, length) pair. It names no I/O; ExtentMapper is a pure
// function.
type Extent struct {
	Oid    string
	Offset uint64
	Length uint64
}

// ExtentMapper maps a logical file's (offset, length) onto the ordered
// sequence of per-stripe extents. It holds no
// state beyond the immutable layout, and is safe for concurrent use.
type ExtentMapper struct {
	objectSize uint64
	mask       uint64
	log2       uint
}

// NewExtentMapper builds a mapper for an object size of 2^objectSizeLog2
// (callers get this from Config.ObjectSizeLog2).
func NewExtentMapper(objectSizeLog2 uint) ExtentMapper {
	objectSize := uint64(1) << objectSizeLog2

	return ExtentMapper{
		objectSize: objectSize,
		mask:       objectSize - 1,
		log2:       objectSizeLog2,
	}
}

// StripeOid returns the object name for stripe j of the logical file named
// name: "<name>.<j as 16-hex-digit lowercase, zero-padded>".
func StripeOid(name string, stripe uint64) string {
	return fmt.Sprintf("%s.%016x", name, stripe)
}

// HeadOid returns the head object name for the logical file named name.
func HeadOid(name string) string {
	return StripeOid(name, headStripe)
}

// StripeIndex parses a "<name>.<16-hex>" object name back to its stripe
// index. It is the inverse of StripeOid.
func StripeIndex(oid string) (uint64, error) {
	if len(oid) < 17 || oid[len(oid)-17] != '.' {
		return 0, fmt.Errorf("%q is not a stripe object name", oid)
	}
	hex := oid[len(oid)-16:]
	var stripe uint64
	if _, err := fmt.Sscanf(hex, "%016x", &stripe); err != nil {
		return 0, fmt.Errorf("%q has an invalid stripe suffix: %w", oid, err)
	}

	return stripe, nil
}

// Map returns the first extent covering [offset, offset+length) of the
// logical file named name. Callers iterate, advancing offset and shrinking
// length by e.Length, until length reaches zero; Split does exactly this.
func (m ExtentMapper) Map(name string, offset, length uint64) Extent {
	stripe := offset >> m.log2
	subOff := offset & m.mask
	subLen := m.objectSize - subOff
	if subLen > length {
		subLen = length
	}

	return Extent{
		Oid:    StripeOid(name, stripe),
		Offset: subOff,
		Length: subLen,
	}
}

// First is a convenience wrapper over Map for offset 0, mirroring the
// striping policy's first-extent lookup.
func (m ExtentMapper) First(name string, length uint64) Extent {
	return m.Map(name, 0, length)
}

// Split returns every extent covering [offset, offset+length), in logical
// order. It is the table-testable core of the read/write fan-out.
func (m ExtentMapper) Split(name string, offset, length uint64) []Extent {
	if length == 0 {
		return nil
	}

	extents := make([]Extent, 0, length/m.objectSize+1)
	off, remaining := offset, length
	for remaining > 0 {
		e := m.Map(name, off, remaining)
		extents = append(extents, e)
		off += e.Length
		remaining -= e.Length
	}

	return extents
}

// ObjectSize returns the mapper's fixed per-stripe object size.
func (m ExtentMapper) ObjectSize() uint64 {
	return m.objectSize
}

// StripeCount returns how many stripe objects (including the head) are
// materialised for a given allocated size. allocated must already be a
// multiple of ObjectSize() or zero (Metadata enforces this invariant).
func (m ExtentMapper) StripeCount(allocated uint64) uint64 {
	if allocated == 0 {
		return 0
	}

	return (allocated + m.mask) / m.objectSize
}
