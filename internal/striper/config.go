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
	"time"
)

// SectorSize is the value the VFS adapter reports for xSectorSize. It is
// fixed, never configurable, per spec.
const SectorSize = 65536

// Config collects the tunables a striper handle is constructed with. All
// fields have sensible production defaults; zero-value
// Config is not valid, use DefaultConfig().
type Config struct {
	// ObjectSizeLog2 is k in object_size = 2^k. Must be in [12, 30].
	ObjectSizeLog2 uint

	// MinGrowthBytes is the minimum allocation increment used by the
	// grow/shrink policy.
	MinGrowthBytes uint64

	// LockRenewalInterval is how often the lease keeper re-acquires the
	// lock to refresh its server-side TTL.
	LockRenewalInterval time.Duration

	// LockRenewalTimeout is the maximum time since the last successful
	// renewal before the keeper declares the lease lost.
	LockRenewalTimeout time.Duration
}

// DefaultConfig returns the reference tunables: 4 MiB objects, 128 MiB
// minimum growth, a 2s renewal cadence and a 30s renewal timeout.
func DefaultConfig() Config {
	return Config{
		ObjectSizeLog2:      22,
		MinGrowthBytes:      1 << 27,
		LockRenewalInterval: 2 * time.Second,
		LockRenewalTimeout:  30 * time.Second,
	}
}

// Validate rejects out-of-range tunables before a striper is constructed.
func (c Config) Validate() error {
	if c.ObjectSizeLog2 < 12 || c.ObjectSizeLog2 > 30 {
		return fmt.Errorf("object_size_log2 must be in [12, 30], got %d", c.ObjectSizeLog2)
	}
	if c.MinGrowthBytes == 0 {
		return fmt.Errorf("min_growth_bytes must be non-zero")
	}
	if c.LockRenewalInterval <= 0 {
		return fmt.Errorf("lock_renewal_interval_ms must be positive")
	}
	if c.LockRenewalTimeout <= 0 {
		return fmt.Errorf("lock_renewal_timeout_ms must be positive")
	}

	return nil
}

// ObjectSize returns 2^ObjectSizeLog2, the fixed size of every stripe
// (including the head object) except possibly the final materialised tail
// object.
func (c Config) ObjectSize() uint64 {
	return 1 << c.ObjectSizeLog2
}

// mask returns object_size-1, used throughout the allocation policy.
func (c Config) mask() uint64 {
	return c.ObjectSize() - 1
}
