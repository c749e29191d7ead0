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

// Package vfspath parses the VFS path grammar "pool:namespace/name", where
// pool is either a name or a numeric pool id spelled "*<digits>". It does
// not open anything - callers feed the result to radosio.Connect and
// striper.New. Name is restricted to the character set a RADOS object
// name and SQLite file name can both safely hold.
package vfspath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ceph/go-rados-striper/internal/errs"
)

// numericPoolRE and namedPoolRE are the two accepted grammars: one for
// "*<id>:ns/name", one for "pool:ns/name". A leading run of slashes is
// tolerated and discarded.
var (
	numericPoolRE = regexp.MustCompile(`^/*(\*[0-9]+):([A-Za-z0-9._-]*)/([A-Za-z0-9._-]+)$`)
	namedPoolRE   = regexp.MustCompile(`^/*([A-Za-z0-9._-]+):([A-Za-z0-9._-]*)/([A-Za-z0-9._-]+)$`)
)

// Location is a fully parsed VFS path: which pool (by name or numeric id),
// which RADOS namespace, and the logical file name within it.
type Location struct {
	// Pool is the pool name, with PoolIsID false, or PoolID is valid and
	// PoolIsID is true.
	Pool      string
	PoolID    int64
	PoolIsID  bool
	Namespace string
	Name      string
}

// Parse validates path against the VFS grammar and rejects WAL-suffixed
// names (the engine is required to run in a non-WAL journal mode).
// Returns errs.ErrInvalidPath on grammar violation, errs.ErrUnsupported
// for a WAL-suffixed name.
func Parse(path string) (Location, error) {
	m := numericPoolRE.FindStringSubmatch(path)
	if m == nil {
		m = namedPoolRE.FindStringSubmatch(path)
	}
	if m == nil {
		return Location{}, fmt.Errorf("%w: %q does not match the VFS path grammar", errs.ErrInvalidPath, path)
	}

	name := m[3]
	if strings.HasSuffix(name, "-wal") {
		return Location{}, fmt.Errorf("%w: WAL journal path %q is not supported", errs.ErrUnsupported, path)
	}

	pool, ns := m[1], m[2]
	if strings.HasPrefix(pool, "*") {
		id, err := strconv.ParseInt(pool[1:], 10, 64)
		if err != nil {
			return Location{}, fmt.Errorf("%w: %q has an invalid numeric pool id: %v", errs.ErrInvalidPath, path, err)
		}

		return Location{PoolID: id, PoolIsID: true, Namespace: ns, Name: name}, nil
	}

	return Location{Pool: pool, Namespace: ns, Name: name}, nil
}

// FullPathname renders the canonical form of loc, as returned by the VFS's
// xFullPathname: "pool:namespace/name", no leading slash, no extra
// separators.
func (l Location) FullPathname() string {
	pool := l.Pool
	if l.PoolIsID {
		pool = "*" + strconv.FormatInt(l.PoolID, 10)
	}

	return fmt.Sprintf("%s:%s/%s", pool, l.Namespace, l.Name)
}
