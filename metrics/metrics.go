/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exposes Prometheus collectors for repository operations,
// executed statements and the connection pool.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/errs"
	"github.com/tomoncle/crudkit/repository"
)

const (
	LabelTable     = "table"
	LabelOperation = "operation"
	LabelCode      = "code"

	// CodeOK labels successful calls.
	CodeOK = "ok"
	// CodeError labels failures carrying no crudkit error code.
	CodeError = "error"
)

// Buckets from 1ms to 5s.
var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds the crudkit collectors. It is a repository.Observer and a
// database.QueryHook.
type Metrics struct {
	Operations        *prometheus.CounterVec   // repository calls by table, operation, code
	OperationDuration *prometheus.HistogramVec // repository call latency in seconds
	OperationRows     *prometheus.CounterVec   // rows returned or written by repository calls

	Queries       *prometheus.CounterVec   // statements by leading keyword and outcome
	QueryDuration *prometheus.HistogramVec // statement latency in seconds

	OpenConnections  prometheus.Gauge
	InUseConnections prometheus.Gauge
	IdleConnections  prometheus.Gauge
}

var (
	_ repository.Observer = (*Metrics)(nil)
	_ database.QueryHook  = (*Metrics)(nil)
)

// NewMetrics registers the collectors on reg (the default registerer when
// nil) under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_operations_total",
				Help:      "Total number of repository operations by table, operation and result code",
			},
			[]string{LabelTable, LabelOperation, LabelCode},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "repository_operation_duration_seconds",
				Help:      "Repository operation latency in seconds",
				Buckets:   durationBuckets,
			},
			[]string{LabelTable, LabelOperation},
		),

		OperationRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_rows_total",
				Help:      "Total number of entities returned or written by repository operations",
			},
			[]string{LabelTable, LabelOperation},
		),

		Queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of executed statements by operation and result",
			},
			[]string{LabelOperation, LabelCode},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Statement latency in seconds",
				Buckets:   durationBuckets,
			},
			[]string{LabelOperation},
		),

		OpenConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_open_connections",
			Help:      "Number of established connections, in use and idle",
		}),

		InUseConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_use_connections",
			Help:      "Number of connections currently in use",
		}),

		IdleConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_idle_connections",
			Help:      "Number of idle connections",
		}),
	}
}

// ObserveOperation records a finished repository operation.
func (m *Metrics) ObserveOperation(_ context.Context, event repository.OperationEvent) {
	m.Operations.WithLabelValues(event.Table, event.Operation, resultCode(event.Err)).Inc()
	m.OperationDuration.WithLabelValues(event.Table, event.Operation).Observe(event.Duration.Seconds())
	if event.Rows > 0 {
		m.OperationRows.WithLabelValues(event.Table, event.Operation).Add(float64(event.Rows))
	}
}

func (m *Metrics) BeforeQuery(ctx context.Context, _ *database.QueryEvent) context.Context {
	return ctx
}

// AfterQuery records an executed statement.
func (m *Metrics) AfterQuery(_ context.Context, event *database.QueryEvent) {
	op := strings.ToLower(event.Operation())
	if op == "" {
		op = "unknown"
	}
	code := CodeOK
	if event.Err != nil {
		code = CodeError
		if ok, kind := database.IsSqlError(event.Err); ok {
			code = kind.String()
		}
	}
	m.Queries.WithLabelValues(op, code).Inc()
	m.QueryDuration.WithLabelValues(op).Observe(event.Duration().Seconds())
}

// RecordPoolStats copies connection pool figures into the gauges.
func (m *Metrics) RecordPoolStats(stats *database.DBStats) {
	if stats == nil {
		return
	}
	m.OpenConnections.Set(float64(stats.OpenConns))
	m.InUseConnections.Set(float64(stats.InUse))
	m.IdleConnections.Set(float64(stats.Idle))
}

func resultCode(err error) string {
	if err == nil {
		return CodeOK
	}
	if code := errs.CodeOf(err); code != "" {
		return strings.ToLower(code)
	}
	return CodeError
}
