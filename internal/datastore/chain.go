// Package datastore looks up the pharma datasets the agents report on.
//
// Every dataset is served by an explicit, ordered Chain of named sources. The
// first source to return a non-empty result wins. An empty slice with a nil
// error means "not found" and is never confused with a failure.
package datastore

import (
	"context"
	"errors"
	"fmt"

	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
)

const defaultLimit = 50

// Filter narrows a lookup. Empty fields do not filter.
type Filter struct {
	Molecule    string
	TherapyArea string
	Region      string
	Country     string
	Indication  string
	Text        string
	Limit       int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultLimit
	}
	return f.Limit
}

// Source is one named way of fetching a dataset.
type Source[T any] struct {
	Name  string
	Fetch func(ctx context.Context, f Filter) ([]T, error)
}

// Chain tries its sources in order.
type Chain[T any] struct {
	dataset string
	sources []Source[T]
	logger  logger.Logger
}

func NewChain[T any](dataset string, log logger.Logger, sources ...Source[T]) *Chain[T] {
	return &Chain[T]{
		dataset: dataset,
		sources: sources,
		logger:  log.With(map[string]interface{}{"dataset": dataset}),
	}
}

// Lookup returns the first non-empty result. Source errors are logged and the
// next source is tried; only when every source failed is the joined error returned.
func (c *Chain[T]) Lookup(ctx context.Context, f Filter) ([]T, error) {
	var errs []error
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := src.Fetch(ctx, f)
		if err != nil {
			metrics.DataSourceLookups.WithLabelValues(c.dataset, src.Name, "error").Inc()
			c.logger.Warn("data source failed, trying next", map[string]interface{}{
				"source": src.Name,
				"error":  err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		if len(out) == 0 {
			metrics.DataSourceLookups.WithLabelValues(c.dataset, src.Name, "miss").Inc()
			continue
		}

		metrics.DataSourceLookups.WithLabelValues(c.dataset, src.Name, "hit").Inc()
		return out, nil
	}

	if len(errs) > 0 && len(errs) == len(c.sources) {
		return nil, errors.Join(errs...)
	}
	return []T{}, nil
}
