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
	"fmt"

	"github.com/ceph/go-ceph/rados"
)

// ClusterHandle bundles the open rados.Conn and the IOContext it was
// asked to open, so the caller can construct a CephAdapter and still
// reach WaitForLatestOSDMap for the stale-placement retry hint.
//
// Connection pooling, credential rotation and RPC-level retries are out
// of scope; this is deliberately the thinnest possible bridge from
// "monitors + pool name" to an IOContext.
type ClusterHandle struct {
	conn  *rados.Conn
	ioctx *rados.IOContext
}

// Connect opens a RADOS cluster connection authenticated via the keyring
// at keyfile, and an IOContext on pool. The caller owns the returned
// handle and must call Close when done.
func Connect(monitors, user, keyfile, pool string) (*ClusterHandle, error) {
	conn, err := rados.NewConnWithUser(user)
	if err != nil {
		return nil, fmt.Errorf("radosio: failed to create connection: %w", err)
	}

	if err := conn.SetConfigOption("mon_host", monitors); err != nil {
		conn.Shutdown()

		return nil, fmt.Errorf("radosio: failed to set mon_host: %w", err)
	}
	if err := conn.SetConfigOption("keyring", keyfile); err != nil {
		conn.Shutdown()

		return nil, fmt.Errorf("radosio: failed to set keyring: %w", err)
	}

	if err := conn.Connect(); err != nil {
		conn.Shutdown()

		return nil, fmt.Errorf("radosio: failed to connect to cluster: %w", err)
	}

	ioctx, err := conn.OpenIOContext(pool)
	if err != nil {
		conn.Shutdown()
		if err2 := rados.ErrNotFound; err == err2 { //nolint:errorlint // sentinel comparison mirrors go-ceph usage
			return nil, fmt.Errorf("radosio: pool %s: %w", pool, ErrNotFound)
		}

		return nil, fmt.Errorf("radosio: failed to open IOContext for pool %s: %w", pool, err)
	}

	return &ClusterHandle{conn: conn, ioctx: ioctx}, nil
}

// IOContext returns the open IOContext, for constructing a CephAdapter.
func (h *ClusterHandle) IOContext() *rados.IOContext {
	return h.ioctx
}

// WaitForLatestOSDMap satisfies the function signature CephAdapter's
// WaitForLatestMapFunc expects.
func (h *ClusterHandle) WaitForLatestOSDMap() error {
	return h.conn.WaitForLatestOSDMap()
}

// Close releases the IOContext and shuts down the connection.
func (h *ClusterHandle) Close() {
	h.ioctx.Destroy()
	h.conn.Shutdown()
}
