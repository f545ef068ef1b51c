// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recommend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "retail",
		Subsystem: "recommend",
		Name:      "fit_seconds",
	})
	QuerySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "retail",
		Subsystem: "recommend",
		Name:      "query_seconds",
	}, []string{"method"})

	FallbackItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retail",
		Subsystem: "recommend",
		Name:      "fallback_items_total",
		Help:      "Number of items filled from the popularity ranking.",
	}, []string{"method"})
	ColdStartQueries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retail",
		Subsystem: "recommend",
		Name:      "cold_start_queries_total",
		Help:      "Number of queries the popularity ranking could not complete.",
	})
)
