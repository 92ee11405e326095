package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
)

// errMergeUnsupported is returned when the underlying index cannot force merges.
var errMergeUnsupported = errors.New("index does not support forced merges")

type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// fullMergeOptions returns the default merge plan bounded to maxSegments per tier.
func fullMergeOptions(maxSegments int) *mergeplan.MergePlanOptions {
	opts := mergeplan.DefaultMergePlanOptions
	if maxSegments > 0 {
		opts.MaxSegmentsPerTier = maxSegments
	}
	return &opts
}

// merge flushes pending changes and merges the segments of the writer's index.
func (w *Writer) merge(ctx context.Context, opts *mergeplan.MergePlanOptions) error {
	if err := w.Flush(); err != nil {
		return err
	}
	adv, err := w.index.Advanced()
	if err != nil {
		return fmt.Errorf("merge %s: %w", w.key, err)
	}
	fm, ok := adv.(forceMerger)
	if !ok {
		return errMergeUnsupported
	}
	if err := fm.ForceMerge(ctx, opts); err != nil {
		return fmt.Errorf("merge %s: %w", w.key, err)
	}
	return nil
}
