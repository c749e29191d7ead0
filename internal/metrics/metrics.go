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

// Package metrics provides the Prometheus instrumentation a striper handle
// exposes to an embedder: optional counters and a latency histogram a
// caller can register to get visibility into striping and lease behavior.
// Collecting and registering these is the embedder's choice - Striper only
// ever increments them, it never registers them with a default registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every counter/histogram a single striper handle updates.
// Construct one with NewCollector and register it (or a vector keyed by
// file name, for multi-handle embedders) with a prometheus.Registerer.
type Collector struct {
	BytesRead     prometheus.Counter
	BytesWritten  prometheus.Counter
	Reads         prometheus.Counter
	Writes        prometheus.Counter
	ShortReads    prometheus.Counter
	ShortWrites   prometheus.Counter
	LeaseAcquires prometheus.Counter
	LeaseBusy     prometheus.Counter
	LeaseRenewals prometheus.Counter
	LeaseLost     prometheus.Counter
	Grows         prometheus.Counter
	Shrinks       prometheus.Counter
	OpLatency     *prometheus.HistogramVec
}

// NewCollector builds a Collector under a fixed "rados_striper" namespace.
func NewCollector() *Collector {
	return &Collector{
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from striped logical files.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "bytes_written_total",
			Help:      "Total bytes written to striped logical files.",
		}),
		Reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "reads_total",
			Help:      "Total Read calls.",
		}),
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "writes_total",
			Help:      "Total Write calls.",
		}),
		ShortReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "short_reads_total",
			Help:      "Reads that returned fewer bytes than requested because of EOF.",
		}),
		ShortWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "short_writes_total",
			Help:      "Writes that accepted fewer bytes than requested because of an adapter error.",
		}),
		LeaseAcquires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "lease_acquires_total",
			Help:      "Successful lease acquisitions.",
		}),
		LeaseBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "lease_busy_retries_total",
			Help:      "Lock retries caused by the lease being held elsewhere.",
		}),
		LeaseRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "lease_renewals_total",
			Help:      "Successful background lease renewals.",
		}),
		LeaseLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "lease_lost_total",
			Help:      "Times a lease keeper declared its lease lost.",
		}),
		Grows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "allocation_grows_total",
			Help:      "setmeta calls that grew the tail-object allocation.",
		}),
		Shrinks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rados_striper",
			Name:      "allocation_shrinks_total",
			Help:      "allocshrink calls that reclaimed tail objects.",
		}),
		OpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rados_striper",
			Name:      "op_latency_seconds",
			Help:      "Latency of striper operations by name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// Collectors returns every metric in c, for one-shot registration:
// registerer.MustRegister(c.Collectors()...).
func (c *Collector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.BytesRead, c.BytesWritten, c.Reads, c.Writes,
		c.ShortReads, c.ShortWrites,
		c.LeaseAcquires, c.LeaseBusy, c.LeaseRenewals, c.LeaseLost,
		c.Grows, c.Shrinks, c.OpLatency,
	}
}
