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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeUint64Width(t *testing.T) {
	t.Parallel()

	for _, v := range []uint64{0, 1, 42, 1 << 40} {
		enc := EncodeUint64(v)
		require.Len(t, enc, uint64Width)

		got, err := DecodeUint64(enc)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestDecodeUint64RejectsWrongLength(t *testing.T) {
	t.Parallel()

	_, err := DecodeUint64([]byte("123"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadMetadata))
}

func TestDecodeUint64RejectsNonDecimal(t *testing.T) {
	t.Parallel()

	_, err := DecodeUint64([]byte("0000000000ff0000"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadMetadata))
}

func TestDecodeUint64RejectsSign(t *testing.T) {
	t.Parallel()

	_, err := DecodeUint64([]byte("-000000000000001"))
	require.Error(t, err)
}

func TestMetadataValidateSizeExceedsAllocated(t *testing.T) {
	t.Parallel()

	m := Metadata{Size: 10, Allocated: 5, Layout: Layout{ObjectSize: 4096}}
	err := m.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadMetadata))
}

func TestMetadataValidateAllocatedNotMultiple(t *testing.T) {
	t.Parallel()

	m := Metadata{Size: 0, Allocated: 100, Layout: Layout{ObjectSize: 4096}}
	err := m.Validate()
	require.Error(t, err)
}

func TestMetadataValidateAcceptsZeroAllocated(t *testing.T) {
	t.Parallel()

	m := Metadata{Size: 0, Allocated: 0, Layout: Layout{ObjectSize: 4096}}
	require.NoError(t, m.Validate())
}

func TestMetadataValidateAcceptsExactMultiple(t *testing.T) {
	t.Parallel()

	m := Metadata{Size: 4096, Allocated: 8192, Layout: Layout{ObjectSize: 4096}}
	require.NoError(t, m.Validate())
}

func TestDefaultLayout(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	layout := DefaultLayout(cfg)
	require.Equal(t, uint64(1), layout.StripeUnit)
	require.Equal(t, uint64(1), layout.StripeCount)
	require.Equal(t, cfg.ObjectSize(), layout.ObjectSize)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(), true},
		{"log2 too small", Config{ObjectSizeLog2: 11, MinGrowthBytes: 1, LockRenewalInterval: 1, LockRenewalTimeout: 1}, false},
		{"log2 too large", Config{ObjectSizeLog2: 31, MinGrowthBytes: 1, LockRenewalInterval: 1, LockRenewalTimeout: 1}, false},
		{"zero min growth", Config{ObjectSizeLog2: 22, MinGrowthBytes: 0, LockRenewalInterval: 1, LockRenewalTimeout: 1}, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
