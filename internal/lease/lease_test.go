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

package lease

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceph/go-rados-striper/internal/errs"
	"github.com/ceph/go-rados-striper/internal/radosio"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls.Add(1)

	return r.err
}

type countingFlusher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFlusher) Flush(context.Context) error {
	f.calls.Add(1)

	return f.err
}

func TestLockCallsRefresherOnAcquire(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	refresher := &countingRefresher{}
	l := New(adapter, "head.0", 50*time.Millisecond, time.Second, nil, refresher)

	require.NoError(t, l.Lock(context.Background(), time.Second))
	require.Equal(t, int32(1), refresher.calls.Load())
	require.True(t, l.IsLocked())
	require.Equal(t, StateLocked, l.State())

	l.Close(context.Background())
}

func TestUnlockCallsFlusher(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	flusher := &countingFlusher{}
	l := New(adapter, "head.0", 50*time.Millisecond, time.Second, flusher, nil)

	require.NoError(t, l.Lock(context.Background(), time.Second))
	require.NoError(t, l.Unlock(context.Background()))
	require.Equal(t, int32(1), flusher.calls.Load())
	require.False(t, l.IsLocked())
}

func TestLockTimesOutWhenBusy(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	holder := New(adapter, "head.0", 50*time.Millisecond, time.Second, nil, nil)
	require.NoError(t, holder.Lock(context.Background(), time.Second))
	defer holder.Close(context.Background())

	contender := New(adapter, "head.0", 50*time.Millisecond, time.Second, nil, nil)
	err := contender.Lock(context.Background(), 30*time.Millisecond)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrBusy))
	require.False(t, contender.IsLocked())
}

func TestLockSucceedsOnceBusyLockIsReleased(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	holder := New(adapter, "head.0", 50*time.Millisecond, time.Second, nil, nil)
	require.NoError(t, holder.Lock(context.Background(), time.Second))

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, holder.Unlock(context.Background()))
	}()

	contender := New(adapter, "head.0", 50*time.Millisecond, time.Second, nil, nil)
	require.NoError(t, contender.Lock(context.Background(), time.Second))
	<-done
	contender.Close(context.Background())
}

func TestKeeperDeclaresLeaseLostAfterBlocklist(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	l := New(adapter, "head.0", 10*time.Millisecond, 50*time.Millisecond, nil, nil)
	require.NoError(t, l.Lock(context.Background(), time.Second))

	adapter.Blocklist("head.0", striperLockName)
	other := New(adapter, "head.0", 10*time.Millisecond, 50*time.Millisecond, nil, nil)
	require.NoError(t, other.Lock(context.Background(), time.Second))

	require.Eventually(t, func() bool {
		return l.State() == StateLost
	}, time.Second, 5*time.Millisecond)

	require.Error(t, l.CheckMutable())
	require.True(t, errors.Is(l.CheckMutable(), errs.ErrLostLease))

	other.Close(context.Background())
}

func TestListLockersReportsHolder(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	l := New(adapter, "head.0", 50*time.Millisecond, time.Second, nil, nil)
	require.NoError(t, l.Lock(context.Background(), time.Second))
	defer l.Close(context.Background())

	report, err := l.ListLockers(context.Background())
	require.NoError(t, err)
	require.True(t, report.Exclusive)
	require.Len(t, report.Lockers, 1)
	require.Equal(t, l.Cookie(), report.Lockers[0].Cookie)
	require.Contains(t, report.String(), l.Cookie())
}

func TestCloseOnUnlockedLeaseIsSafe(t *testing.T) {
	t.Parallel()

	adapter := radosio.NewFake()
	l := New(adapter, "head.0", 50*time.Millisecond, time.Second, nil, nil)
	l.Close(context.Background()) // must not panic or block
	require.False(t, l.IsLocked())
}
