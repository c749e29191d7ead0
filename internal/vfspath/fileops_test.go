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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceph/go-rados-striper/internal/radosio"
	"github.com/ceph/go-rados-striper/internal/striper"
)

func testStriperConfig() striper.Config {
	cfg := striper.DefaultConfig()
	cfg.ObjectSizeLog2 = 12
	cfg.MinGrowthBytes = 8192
	cfg.LockRenewalInterval = 20 * time.Millisecond
	cfg.LockRenewalTimeout = time.Second

	return cfg
}

func TestAccessOnMissingFile(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	s, err := striper.New(testStriperConfig(), adapter, "nope")
	require.NoError(t, err)

	exists, err := Access(context.Background(), s)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestOpenCreateThenFileReadWrite(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	s, err := striper.New(testStriperConfig(), adapter, "db")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Open(ctx, s, true))

	f := NewFile(s)
	require.NoError(t, f.Lock(ctx, LockShared, time.Second))

	n, err := f.Write(ctx, []byte("abc"), 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, f.Sync(ctx))
	require.Equal(t, uint64(3), f.FileSize())

	buf := make([]byte, 3)
	n, err = f.Read(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("abc"), buf)

	require.Equal(t, striper.SectorSize, f.SectorSize())

	require.NoError(t, f.Close(ctx))
}

func TestLockEscalationOnlyLocksOnce(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	s, err := striper.New(testStriperConfig(), adapter, "db")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, Open(ctx, s, true))

	f := NewFile(s)
	require.NoError(t, f.Lock(ctx, LockShared, time.Second))
	require.True(t, s.IsLocked())
	require.NoError(t, f.Lock(ctx, LockReserved, time.Second))
	require.NoError(t, f.Lock(ctx, LockExclusive, time.Second))
	require.True(t, s.IsLocked())

	require.NoError(t, f.Unlock(ctx))
	require.False(t, s.IsLocked())
}

func TestCheckReservedLockDetectsOtherHolder(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	owner, err := striper.New(testStriperConfig(), adapter, "db")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, Open(ctx, owner, true))
	require.NoError(t, owner.Lock(ctx, time.Second))

	viewer, err := striper.New(testStriperConfig(), adapter, "db")
	require.NoError(t, err)
	f := NewFile(viewer)

	reserved, err := f.CheckReservedLock(ctx)
	require.NoError(t, err)
	require.True(t, reserved)

	require.NoError(t, owner.Unlock(ctx))
}

func TestDeleteRemovesFile(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	s, err := striper.New(testStriperConfig(), adapter, "db")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, Open(ctx, s, true))

	require.NoError(t, Delete(ctx, s, time.Second))

	fresh, err := striper.New(testStriperConfig(), adapter, "db")
	require.NoError(t, err)
	exists, err := Access(ctx, fresh)
	require.NoError(t, err)
	require.False(t, exists)
}
