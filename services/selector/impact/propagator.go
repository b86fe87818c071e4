// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact computes transitive-closure affected sets over the
// reverse dependency maps.
//
// One fixpoint algorithm serves both granularities: the file graph's
// dependents map and the method graph's calledBy map are traversed
// through the same reverseEdges capability.
package impact

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/testsieve/services/selector/depgraph"
)

// reverseEdges exposes a graph's reverse adjacency.
type reverseEdges interface {
	edges(node string) []string
}

type fileEdges struct{ g *depgraph.Graph }

func (f fileEdges) edges(node string) []string { return f.g.Dependents(node) }

type methodEdges struct{ m *depgraph.MethodGraph }

func (m methodEdges) edges(node string) []string { return m.m.Callers(node) }

// Affected returns the transitive closure of files impacted by the
// changed set, the changed files themselves included.
//
// The traversal is a visited-set fixpoint: a node already visited is a
// no-op, which is what makes dependency cycles terminate. Result order
// is sorted; consumers needing a different order re-sort.
func Affected(ctx context.Context, g *depgraph.Graph, changed []string) []string {
	start := time.Now()
	out := fixpoint(fileEdges{g: g}, changed, nil)
	recordPropagation(ctx, "file", len(changed), len(out), time.Since(start))
	return out
}

// AffectedMethods returns the transitive closure of methods impacted by
// the changed methods over the call graph's resolved reverse edges.
//
// Opaque receiver tokens ($var->m) are excluded as both sources and
// targets: they never carry impact, only forward diagnostics.
func AffectedMethods(ctx context.Context, m *depgraph.MethodGraph, changed []string) []string {
	start := time.Now()
	seeds := make([]string, 0, len(changed))
	for _, method := range changed {
		if depgraph.IsOpaqueMethod(method) {
			continue
		}
		seeds = append(seeds, method)
	}
	out := fixpoint(methodEdges{m: m}, seeds, depgraph.IsOpaqueMethod)
	recordPropagation(ctx, "method", len(seeds), len(out), time.Since(start))
	return out
}

// fixpoint expands the seed set along reverse edges until no new nodes
// appear. skip filters nodes that must never enter the result.
func fixpoint(rev reverseEdges, seeds []string, skip func(string) bool) []string {
	visited := make(map[string]struct{}, len(seeds))
	queue := make([]string, 0, len(seeds))

	for _, seed := range seeds {
		if seed == "" {
			continue
		}
		if _, ok := visited[seed]; ok {
			continue
		}
		visited[seed] = struct{}{}
		queue = append(queue, seed)
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, dep := range rev.edges(node) {
			if skip != nil && skip(dep) {
				continue
			}
			if _, ok := visited[dep]; ok {
				continue
			}
			visited[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}

	out := make([]string, 0, len(visited))
	for node := range visited {
		out = append(out, node)
	}
	sort.Strings(out)
	return out
}

// Package-level meter for propagation.
var meter = otel.Meter("testsieve.impact")

var (
	propagationLatency metric.Float64Histogram
	affectedSetSize    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		propagationLatency, err = meter.Float64Histogram(
			"impact_propagation_duration_seconds",
			metric.WithDescription("Duration of affected-set fixpoint traversal"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		affectedSetSize, err = meter.Int64Histogram(
			"impact_affected_set_size",
			metric.WithDescription("Size of the computed affected set"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPropagation(ctx context.Context, level string, seeds, affected int, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return // Silently skip if metrics init failed
	}
	attrs := metric.WithAttributes(
		attribute.String("level", level),
		attribute.Int("seed_count", seeds),
	)
	propagationLatency.Record(ctx, duration.Seconds(), attrs)
	affectedSetSize.Record(ctx, int64(affected), attrs)
}
