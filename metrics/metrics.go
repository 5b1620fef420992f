// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package metrics provides the non-behavioral observability handle threaded
// through every component constructor. There is no global registry: each
// replica process builds one Registry at startup and passes it down.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/resilientdb/core/utils/wrappers"
)

// Averager tracks a running average of an observed quantity (e.g. commit
// latency in milliseconds).
type Averager interface {
	Observe(value float64)
	Read() float64
}

type averager struct {
	mu    sync.RWMutex
	sum   float64
	count float64

	promCount prometheus.Counter
	promSum   prometheus.Gauge
}

// NewAverager registers a count/sum pair of Prometheus metrics and returns
// an Averager backed by them.
func NewAverager(name, help string, reg prometheus.Registerer) (Averager, error) {
	count := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + "_count",
		Help: "Total # of observations of " + help,
	})
	sum := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name + "_sum",
		Help: "Sum of " + help,
	})
	if err := reg.Register(count); err != nil {
		return nil, err
	}
	if err := reg.Register(sum); err != nil {
		return nil, err
	}
	return &averager{promCount: count, promSum: sum}, nil
}

// NewAveragerWithErrs is NewAverager but failures are accumulated in errs
// instead of returned, matching the startup pattern used by Registry.
func NewAveragerWithErrs(name, help string, reg prometheus.Registerer, errs *wrappers.Errs) Averager {
	a, err := NewAverager(name, help, reg)
	if err != nil {
		errs.Add(err)
		return &averager{}
	}
	return a
}

func (a *averager) Observe(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += value
	a.count++
	if a.promCount != nil {
		a.promCount.Inc()
		a.promSum.Add(value)
	}
}

func (a *averager) Read() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / a.count
}

// Registry is the per-replica observability handle. It is constructed once
// at startup (NewRegistry, called from cmd/replica) and passed by reference to every engine,
// transport adapter, and pipeline stage that wants to record something.
type Registry struct {
	Registerer prometheus.Registerer

	BatchesProposed     prometheus.Counter
	BatchesCommitted     prometheus.Counter
	RequestsCommitted    prometheus.Counter
	ProtocolViolations   prometheus.Counter
	CryptoFailures       prometheus.Counter
	TransportFailures    prometheus.Counter
	PrimaryForwards      prometheus.Counter
	ExecutorErrors       prometheus.Counter
	QuorumTimeouts       prometheus.Counter
	ViewChanges          prometheus.Counter
	CommitLatencyMillis  Averager
	BatchSize            Averager
}

// NewRegistry builds and registers the standard set of consensus counters
// against reg. A nil reg uses a fresh, unshared prometheus.Registry.
func NewRegistry(reg prometheus.Registerer) (*Registry, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	errs := &wrappers.Errs{}
	r := &Registry{
		Registerer:          reg,
		BatchesProposed:     mustCounter(reg, errs, "batches_proposed_total", "batches proposed by this replica as primary/leader"),
		BatchesCommitted:    mustCounter(reg, errs, "batches_committed_total", "batches committed to the ordered log"),
		RequestsCommitted:   mustCounter(reg, errs, "requests_committed_total", "client requests committed across all batches"),
		ProtocolViolations:  mustCounter(reg, errs, "protocol_violations_total", "messages dropped as stale, duplicate, or under-quorum"),
		CryptoFailures:      mustCounter(reg, errs, "crypto_failures_total", "signature verification failures"),
		TransportFailures:   mustCounter(reg, errs, "transport_failures_total", "send failures after exhausting the retry budget"),
		PrimaryForwards:     mustCounter(reg, errs, "primary_forwards_total", "batches forwarded to a believed primary after a local proposal failed"),
		ExecutorErrors:      mustCounter(reg, errs, "executor_errors_total", "batches committed to the ordered log whose executor application failed"),
		QuorumTimeouts:      mustCounter(reg, errs, "quorum_timeouts_total", "views/terms that timed out waiting for quorum"),
		ViewChanges:         mustCounter(reg, errs, "view_changes_total", "view-change or leader-election transitions"),
		CommitLatencyMillis: NewAveragerWithErrs("commit_latency_millis", "end-to-end commit latency in milliseconds", reg, errs),
		BatchSize:           NewAveragerWithErrs("batch_size", "requests per committed batch", reg, errs),
	}
	if errs.Errored() {
		return nil, errs.Err()
	}
	return r, nil
}

func mustCounter(reg prometheus.Registerer, errs *wrappers.Errs, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if err := reg.Register(c); err != nil {
		errs.Add(err)
	}
	return c
}
