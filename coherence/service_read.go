package coherence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gaborage/go-coherence/cache"
	"github.com/gaborage/go-coherence/logger"
	"github.com/gaborage/go-coherence/store"
)

// ReadOption adjusts a single read.
type ReadOption func(*readOptions)

type readOptions struct {
	pick   []string
	ttl    time.Duration
	hasTTL bool
	force  bool
}

// WithPick projects id reads to columns instead of the entity's Pick.
func WithPick(columns ...string) ReadOption {
	return func(o *readOptions) { o.pick = columns }
}

// WithTTL overrides the entity TTL for entries this read stores.
func WithTTL(ttl time.Duration) ReadOption {
	return func(o *readOptions) { o.ttl, o.hasTTL = ttl, true }
}

// WithForce skips the cache lookup and refreshes the entry from the store.
func WithForce() ReadOption {
	return func(o *readOptions) { o.force = true }
}

func (s *Service) options(opts []ReadOption) readOptions {
	o := readOptions{pick: s.cfg.Pick, ttl: s.cfg.TTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetByID returns row id projected to the pick list. found is false when the row does
// not exist. Inside a unit of work the read goes to the store on its transaction so
// uncommitted rows never reach the cache.
func (s *Service) GetByID(ctx context.Context, uow *UnitOfWork, id string, opts ...ReadOption) (rec store.Record, found bool, err error) {
	o := s.options(opts)

	if uow != nil {
		if err := uow.usable(); err != nil {
			return nil, false, err
		}
		rec, found, err = s.loadByID(ctx, uow, id)
	} else {
		rec, found, err = cache.Warp(ctx, s.reader, s.planner.Namespace(cache.DimensionID), id, func(ctx context.Context) (store.Record, bool, error) {
			return s.loadByID(ctx, nil, id)
		}, o.ttl, o.force)
	}
	if err != nil || !found {
		return nil, false, err
	}
	return rec.Pick(o.pick), true, nil
}

func (s *Service) loadByID(ctx context.Context, uow *UnitOfWork, id string) (store.Record, bool, error) {
	logger.IncrementStoreReads(ctx)
	rec, err := s.store.GetByID(ctx, uow.Tx(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// CheckByID is GetByID for rows that must exist: a missing row is a *DataNotFoundError.
func (s *Service) CheckByID(ctx context.Context, uow *UnitOfWork, id string, opts ...ReadOption) (store.Record, error) {
	rec, found, err := s.GetByID(ctx, uow, id, opts...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &DataNotFoundError{Entity: s.cfg.Name, Title: s.cfg.Title, ID: id}
	}
	return rec, nil
}

// MGetByIDs returns the existing rows among ids, projected to the pick list. The cache is
// read once and the store once for the misses.
func (s *Service) MGetByIDs(ctx context.Context, uow *UnitOfWork, ids []string, opts ...ReadOption) (map[string]store.Record, error) {
	o := s.options(opts)

	var (
		rows map[string]store.Record
		err  error
	)
	if uow != nil {
		if err := uow.usable(); err != nil {
			return nil, err
		}
		logger.IncrementStoreReads(ctx)
		rows, err = s.store.MGetByIDs(ctx, uow.Tx(), ids)
	} else {
		rows, err = cache.MWarp(ctx, s.reader, s.planner.Namespace(cache.DimensionID), ids, func(ctx context.Context, missing []string) (map[string]store.Record, error) {
			logger.IncrementStoreReads(ctx)
			return s.store.MGetByIDs(ctx, nil, missing)
		}, o.ttl, o.force)
	}
	if err != nil {
		return nil, err
	}

	for id, rec := range rows {
		rows[id] = rec.Pick(o.pick)
	}
	return rows, nil
}

func (s *Service) hasSpec(dimension, field string) bool {
	return slices.ContainsFunc(s.planner.Specs(), func(c CacheSpec) bool {
		return c.Dimension == dimension && c.Field == field
	})
}

// GetIDBy returns the key of the row whose field equals value. field must be configured
// as an index cache field.
func (s *Service) GetIDBy(ctx context.Context, uow *UnitOfWork, field, value string, opts ...ReadOption) (string, bool, error) {
	if !s.hasSpec(cache.DimensionIndex, field) {
		return "", false, fmt.Errorf("%w: index %s.%s", ErrUnknownDimension, s.cfg.Name, field)
	}
	o := s.options(opts)

	load := func(ctx context.Context) (string, bool, error) {
		logger.IncrementStoreReads(ctx)
		id, err := s.store.GetIDBy(ctx, uow.Tx(), field, value)
		if errors.Is(err, store.ErrNotFound) {
			return "", false, nil
		}
		return id, err == nil, err
	}

	if uow != nil {
		if err := uow.usable(); err != nil {
			return "", false, err
		}
		return load(ctx)
	}
	return cache.Warp(ctx, s.reader, s.planner.Namespace(cache.DimensionIndex, field), value, load, o.ttl, o.force)
}

// dataRead serves a list or count read from the data bucket, or from the store inside a
// unit of work.
func dataRead[T any](ctx context.Context, s *Service, uow *UnitOfWork, key string, o readOptions, load func(ctx context.Context) (T, error)) (T, error) {
	loader := func(ctx context.Context) (T, bool, error) {
		logger.IncrementStoreReads(ctx)
		v, err := load(ctx)
		return v, err == nil, err
	}

	if uow != nil {
		if err := uow.usable(); err != nil {
			var zero T
			return zero, err
		}
		v, _, err := loader(ctx)
		return v, err
	}
	v, _, err := cache.Warp(ctx, s.reader, s.planner.Namespace(cache.DimensionData), key, loader, o.ttl, o.force)
	return v, err
}

// FindIDList returns the keys matching query. finger describes query for the cache key
// and must change whenever query does.
func (s *Service) FindIDList(ctx context.Context, uow *UnitOfWork, finger []any, query store.Query, opts ...ReadOption) ([]string, error) {
	fp, err := cache.Fingerprint(finger...)
	if err != nil {
		return nil, err
	}
	return dataRead(ctx, s, uow, cache.ListKey(fp), s.options(opts), func(ctx context.Context) ([]string, error) {
		return s.store.SelectIDList(ctx, uow.Tx(), query)
	})
}

// FindListCount returns the number of rows matching query.
func (s *Service) FindListCount(ctx context.Context, uow *UnitOfWork, finger []any, query store.Query, opts ...ReadOption) (int64, error) {
	fp, err := cache.Fingerprint(finger...)
	if err != nil {
		return 0, err
	}
	return dataRead(ctx, s, uow, cache.CountKey(fp), s.options(opts), func(ctx context.Context) (int64, error) {
		return s.store.SelectListCount(ctx, uow.Tx(), query)
	})
}

// FindIDSortList returns one cursor window of the keys matching query.
func (s *Service) FindIDSortList(ctx context.Context, uow *UnitOfWork, finger []any, pager store.Pager, query store.Query, opts ...ReadOption) (store.SortList, error) {
	fp, err := cache.Fingerprint(finger...)
	if err != nil {
		return store.SortList{}, err
	}
	key := cache.SortListKey(pager.Rows, pager.Last, fp)
	return dataRead(ctx, s, uow, key, s.options(opts), func(ctx context.Context) (store.SortList, error) {
		return s.store.SelectIDSortList(ctx, uow.Tx(), pager, query)
	})
}

// FindIDViewList returns one page of the keys matching query. The total comes from
// FindListCount, so it is cached under the same fingerprint.
func (s *Service) FindIDViewList(ctx context.Context, uow *UnitOfWork, finger []any, pager store.Pager, query store.Query, opts ...ReadOption) (store.ViewList, error) {
	total, err := s.FindListCount(ctx, uow, finger, query, opts...)
	if err != nil {
		return store.ViewList{}, err
	}
	fp, err := cache.Fingerprint(finger...)
	if err != nil {
		return store.ViewList{}, err
	}
	key := cache.ViewListKey(pager.Rows, pager.Page, fp)
	return dataRead(ctx, s, uow, key, s.options(opts), func(ctx context.Context) (store.ViewList, error) {
		return s.store.SelectIDViewList(ctx, uow.Tx(), pager, query, total)
	})
}

// GetCountBy returns the number of rows whose field equals value, or of rows matching
// query when it is set. field must be configured as a count cache field; query must only
// narrow rows of that value, since the entry is invalidated through it.
func (s *Service) GetCountBy(ctx context.Context, uow *UnitOfWork, field, value string, query store.Query, opts ...ReadOption) (int64, error) {
	if !s.hasSpec(cache.DimensionCount, field) {
		return 0, fmt.Errorf("%w: count %s.%s", ErrUnknownDimension, s.cfg.Name, field)
	}
	o := s.options(opts)

	load := func(ctx context.Context) (int64, bool, error) {
		logger.IncrementStoreReads(ctx)
		if query != nil {
			n, err := s.store.SelectListCount(ctx, uow.Tx(), query)
			return n, err == nil, err
		}
		counts, err := s.store.CountBy(ctx, uow.Tx(), field, []string{value})
		return counts[value], err == nil, err
	}

	if uow != nil {
		if err := uow.usable(); err != nil {
			return 0, err
		}
		n, _, err := load(ctx)
		return n, err
	}
	n, _, err := cache.Warp(ctx, s.reader, s.planner.Namespace(cache.DimensionCount, field), value, load, o.ttl, o.force)
	return n, err
}

// MGetCountBy returns the row count of every value of field. Values without rows count 0.
func (s *Service) MGetCountBy(ctx context.Context, uow *UnitOfWork, field string, values []string, opts ...ReadOption) (map[string]int64, error) {
	if !s.hasSpec(cache.DimensionCount, field) {
		return nil, fmt.Errorf("%w: count %s.%s", ErrUnknownDimension, s.cfg.Name, field)
	}
	o := s.options(opts)

	load := func(ctx context.Context, missing []string) (map[string]int64, error) {
		logger.IncrementStoreReads(ctx)
		counts, err := s.store.CountBy(ctx, uow.Tx(), field, missing)
		if err != nil {
			return nil, err
		}
		out := make(map[string]int64, len(missing))
		for _, v := range missing {
			out[v] = counts[v]
		}
		return out, nil
	}

	if uow != nil {
		if err := uow.usable(); err != nil {
			return nil, err
		}
		return load(ctx, values)
	}
	return cache.MWarp(ctx, s.reader, s.planner.Namespace(cache.DimensionCount, field), values, load, o.ttl, o.force)
}
