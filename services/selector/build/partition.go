// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// extractPartitioned fans extraction out over disjoint path partitions.
//
// # Description
//
// Paths are split round-robin into Partitions slices, each processed by
// one errgroup goroutine under PartitionTimeout. Because partitions are
// disjoint by path, merging their fragments is plain concatenation —
// no two workers ever produce facts for the same file, so there is no
// merge conflict to resolve.
//
// A failed or timed-out partition does not fail the build: its paths
// are reprocessed sequentially afterwards, so the result is always
// complete. Only context cancellation on the parent aborts.
func (b *Builder) extractPartitioned(ctx context.Context, paths []string) ([]fileFacts, error) {
	n := b.config.Partitions
	partitions := make([][]string, n)
	for i, path := range paths {
		partitions[i%n] = append(partitions[i%n], path)
	}

	fragments := make([][]fileFacts, n)
	failed := make([]bool, n)

	g, groupCtx := errgroup.WithContext(ctx)
	for i := range partitions {
		i := i
		g.Go(func() error {
			partCtx := groupCtx
			if b.config.PartitionTimeout > 0 {
				var cancel context.CancelFunc
				partCtx, cancel = context.WithTimeout(groupCtx, b.config.PartitionTimeout)
				defer cancel()
			}
			frag, err := b.extractSequential(partCtx, partitions[i])
			if err != nil {
				// Swallow the partition error so sibling partitions
				// finish; the fallback pass below covers this slice.
				failed[i] = true
				b.logger.Warn("extraction partition failed, will retry sequentially",
					slog.Int("partition", i),
					slog.Int("files", len(partitions[i])),
					slog.String("error", err.Error()))
				return nil
			}
			fragments[i] = frag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("partitioned extraction: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("partitioned extraction canceled: %w", err)
	}

	out := make([]fileFacts, 0, len(paths))
	for i, frag := range fragments {
		if failed[i] {
			retry, err := b.extractSequential(ctx, partitions[i])
			if err != nil {
				return nil, err
			}
			out = append(out, retry...)
			continue
		}
		out = append(out, frag...)
	}
	return out, nil
}
