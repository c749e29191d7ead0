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

package radosio

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Adapter: a map of named objects, each with its own
// data/xattr state, plus per-(oid,lockName) lock state. All operations
// complete synchronously; the returned Completion's Wait is a formality.
// Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	locks   map[string]*fakeLock

	// WaitForLatestMapCalls counts WaitForLatestMap invocations, so tests
	// can assert the stale-placement retry path was actually taken.
	WaitForLatestMapCalls int
}

type fakeObject struct {
	data   []byte
	xattrs map[string][]byte
}

type fakeLock struct {
	cookie      string
	description string
}

var _ Adapter = (*Fake)(nil)

// NewFake returns an empty Fake adapter.
func NewFake() *Fake {
	return &Fake{
		objects: make(map[string]*fakeObject),
		locks:   make(map[string]*fakeLock),
	}
}

type fakeCompletion struct{ err error }

func (c fakeCompletion) Wait(context.Context) error { return c.err }

type fakeReadCompletion struct {
	fakeCompletion
	n int
}

func (c fakeReadCompletion) BytesRead() int { return c.n }

func (f *Fake) ReadExtent(_ context.Context, oid string, offset uint64, buf []byte) (ReadCompletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[oid]
	if !ok {
		return fakeReadCompletion{fakeCompletion{ErrNotFound}, 0}, nil
	}

	if offset >= uint64(len(obj.data)) {
		return fakeReadCompletion{fakeCompletion{nil}, 0}, nil
	}

	n := copy(buf, obj.data[offset:])

	return fakeReadCompletion{fakeCompletion{nil}, n}, nil
}

func (f *Fake) WriteExtent(_ context.Context, oid string, offset uint64, data []byte) (Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj := f.getOrCreate(oid)
	end := offset + uint64(len(data))
	if end > uint64(len(obj.data)) {
		grown := make([]byte, end)
		copy(grown, obj.data)
		obj.data = grown
	}
	copy(obj.data[offset:end], data)

	return fakeCompletion{nil}, nil
}

func (f *Fake) RemoveObject(_ context.Context, oid string) (Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.objects[oid]; !ok {
		return fakeCompletion{ErrNotFound}, nil
	}
	delete(f.objects, oid)

	return fakeCompletion{nil}, nil
}

// CompoundWrite applies steps in the fixed order CreateExclusive, Remove,
// SetXattr, Truncate, regardless of the order steps were added to the op.
func (f *Fake) CompoundWrite(_ context.Context, oid string, steps []WriteStep) (Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var creates, removes, xattrs, truncates []WriteStep
	for _, s := range steps {
		switch s.Kind {
		case StepCreateExclusive:
			creates = append(creates, s)
		case StepRemove:
			removes = append(removes, s)
		case StepSetXattr:
			xattrs = append(xattrs, s)
		case StepTruncate:
			truncates = append(truncates, s)
		}
	}

	if len(creates) > 0 {
		if _, exists := f.objects[oid]; exists {
			return fakeCompletion{ErrExists}, nil
		}
		f.objects[oid] = &fakeObject{xattrs: make(map[string][]byte)}
	}

	for range removes {
		delete(f.objects, oid)
	}

	if len(xattrs) > 0 || len(truncates) > 0 {
		obj, ok := f.objects[oid]
		if !ok {
			return fakeCompletion{ErrNotFound}, nil
		}
		for _, s := range xattrs {
			obj.xattrs[s.Key] = append([]byte(nil), s.Value...)
		}
		for _, s := range truncates {
			obj.data = resize(obj.data, s.Size)
		}
	}

	return fakeCompletion{nil}, nil
}

func resize(data []byte, size uint64) []byte {
	if uint64(len(data)) == size {
		return data
	}
	grown := make([]byte, size)
	copy(grown, data)

	return grown
}

func (f *Fake) CompoundRead(_ context.Context, oid string, xattrKeys []string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[oid]
	if !ok {
		return nil, ErrNotFound
	}

	results := make(map[string][]byte, len(xattrKeys))
	for _, key := range xattrKeys {
		if v, ok := obj.xattrs[key]; ok {
			results[key] = v
		}
	}

	return results, nil
}

func (f *Fake) getOrCreate(oid string) *fakeObject {
	obj, ok := f.objects[oid]
	if !ok {
		obj = &fakeObject{xattrs: make(map[string][]byte)}
		f.objects[oid] = obj
	}

	return obj
}

func (f *Fake) ExclusiveLock(
	_ context.Context,
	oid, lockName, cookie, description string,
	_ time.Duration,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := oid + "\x00" + lockName
	if l, held := f.locks[key]; held && l.cookie != cookie {
		return ErrBusy
	}
	f.locks[key] = &fakeLock{cookie: cookie, description: description}

	return nil
}

func (f *Fake) Unlock(_ context.Context, oid, lockName, cookie string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := oid + "\x00" + lockName
	if l, held := f.locks[key]; held && l.cookie == cookie {
		delete(f.locks, key)
	}

	return nil
}

func (f *Fake) ListLockers(_ context.Context, oid, lockName string) (LockerList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := oid + "\x00" + lockName
	l, held := f.locks[key]
	if !held {
		return LockerList{}, nil
	}

	return LockerList{
		Exclusive: true,
		Tag:       l.description,
		Lockers:   []LockerInfo{{Client: "fake", Cookie: l.cookie, Address: "0.0.0.0/0"}},
	}, nil
}

func (f *Fake) WaitForLatestMap(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WaitForLatestMapCalls++

	return nil
}

// Blocklist forcibly drops a lock, simulating the server revoking a
// client's lease out from under it (used to exercise the lease keeper's
// timeout path in tests without waiting 30 real seconds).
func (f *Fake) Blocklist(oid, lockName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, oid+"\x00"+lockName)
}

// ObjectExists is a test helper exposing whether oid is currently
// materialised.
func (f *Fake) ObjectExists(oid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[oid]

	return ok
}
