/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	triggerCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuesmith",
		Name:      "triggers_total",
		Help:      "Trigger events by admission result.",
	}, []string{"result"})

	outcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuesmith",
		Name:      "outcomes_total",
		Help:      "Terminal attempt outcomes.",
	}, []string{"outcome"})

	storeFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "issuesmith",
		Name:      "statestore_failures_total",
		Help:      "State store read/write failures. Any increase here undermines the concurrency guard and should page.",
	})
)
