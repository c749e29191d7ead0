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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripeOidAndHeadOid(t *testing.T) {
	t.Parallel()

	require.Equal(t, "myfile.0000000000000000", HeadOid("myfile"))
	require.Equal(t, "myfile.0000000000000001", StripeOid("myfile", 1))
	require.Equal(t, "myfile.000000000000002a", StripeOid("myfile", 42))
}

func TestStripeIndexRoundTrip(t *testing.T) {
	t.Parallel()

	for _, stripe := range []uint64{0, 1, 42, 1 << 40} {
		oid := StripeOid("db", stripe)
		got, err := StripeIndex(oid)
		require.NoError(t, err)
		require.Equal(t, stripe, got)
	}
}

func TestStripeIndexRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := StripeIndex("not-a-stripe-object")
	require.Error(t, err)
}

func TestExtentMapperMapWithinOneStripe(t *testing.T) {
	t.Parallel()

	m := NewExtentMapper(22) // 4 MiB objects
	e := m.Map("db", 100, 200)
	require.Equal(t, HeadOid("db"), e.Oid)
	require.Equal(t, uint64(100), e.Offset)
	require.Equal(t, uint64(200), e.Length)
}

func TestExtentMapperMapAtStripeBoundary(t *testing.T) {
	t.Parallel()

	objectSize := uint64(1) << 22
	m := NewExtentMapper(22)

	// A write starting exactly at the boundary lands entirely in stripe 1,
	// sub-offset 0.
	e := m.Map("db", objectSize, 10)
	require.Equal(t, StripeOid("db", 1), e.Oid)
	require.Equal(t, uint64(0), e.Offset)
	require.Equal(t, uint64(10), e.Length)
}

func TestExtentMapperSplitAcrossTwoStripes(t *testing.T) {
	t.Parallel()

	objectSize := uint64(1) << 22
	m := NewExtentMapper(22)

	// Offset 10 bytes before the boundary, length spanning 20 bytes past
	// it: exactly two extents, split at the stripe boundary.
	offset := objectSize - 10
	extents := m.Split("db", offset, 20)
	require.Len(t, extents, 2)

	require.Equal(t, HeadOid("db"), extents[0].Oid)
	require.Equal(t, objectSize-10, extents[0].Offset)
	require.Equal(t, uint64(10), extents[0].Length)

	require.Equal(t, StripeOid("db", 1), extents[1].Oid)
	require.Equal(t, uint64(0), extents[1].Offset)
	require.Equal(t, uint64(10), extents[1].Length)
}

func TestExtentMapperSplitManyStripes(t *testing.T) {
	t.Parallel()

	objectSize := uint64(1) << 12 // 4 KiB, to keep the test cheap
	m := NewExtentMapper(12)

	length := objectSize*3 + 17
	extents := m.Split("db", 5, length)
	require.Len(t, extents, 4)

	total := uint64(0)
	for _, e := range extents {
		total += e.Length
	}
	require.Equal(t, length, total)
}

func TestExtentMapperSplitZeroLength(t *testing.T) {
	t.Parallel()

	m := NewExtentMapper(22)
	require.Empty(t, m.Split("db", 0, 0))
}

func TestExtentMapperFirstMatchesMapAtZero(t *testing.T) {
	t.Parallel()

	m := NewExtentMapper(22)
	require.Equal(t, m.Map("db", 0, 4096), m.First("db", 4096))
}

func TestExtentMapperStripeCount(t *testing.T) {
	t.Parallel()

	objectSize := uint64(1) << 22
	m := NewExtentMapper(22)

	require.Equal(t, uint64(0), m.StripeCount(0))
	require.Equal(t, uint64(1), m.StripeCount(objectSize))
	require.Equal(t, uint64(2), m.StripeCount(objectSize+1))
	require.Equal(t, uint64(33), m.StripeCount(objectSize*33))
}
