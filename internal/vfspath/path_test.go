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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceph/go-rados-striper/internal/errs"
)

func TestParseNamedPool(t *testing.T) {
	t.Parallel()

	loc, err := Parse("mypool:myns/mydb")
	require.NoError(t, err)
	require.Equal(t, "mypool", loc.Pool)
	require.False(t, loc.PoolIsID)
	require.Equal(t, "myns", loc.Namespace)
	require.Equal(t, "mydb", loc.Name)
}

func TestParseNumericPool(t *testing.T) {
	t.Parallel()

	loc, err := Parse("*3:/mydb")
	require.NoError(t, err)
	require.True(t, loc.PoolIsID)
	require.Equal(t, int64(3), loc.PoolID)
	require.Empty(t, loc.Namespace)
	require.Equal(t, "mydb", loc.Name)
}

func TestParseAllowsLeadingSlashes(t *testing.T) {
	t.Parallel()

	loc, err := Parse("///mypool:myns/mydb")
	require.NoError(t, err)
	require.Equal(t, "mypool", loc.Pool)
}

func TestParseRejectsMissingName(t *testing.T) {
	t.Parallel()

	_, err := Parse("mypool:myns/")
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrInvalidPath))
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Parse("not a path at all")
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrInvalidPath))
}

func TestParseRejectsWalSuffix(t *testing.T) {
	t.Parallel()

	_, err := Parse("mypool:myns/mydb-wal")
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrUnsupported))
}

func TestFullPathnameRoundTrip(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"mypool:myns/mydb", "mypool:/mydb", "*7:ns/db"} {
		loc, err := Parse(path)
		require.NoError(t, err)
		require.Equal(t, path, loc.FullPathname())
	}
}
