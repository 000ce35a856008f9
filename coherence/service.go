// Package coherence keeps a Redis cache coherent with a relational store.
//
// Reads go through the cache by id, secondary index, count and query fingerprint. Writes
// compute every cache group they make stale and delete them once the data is durable:
// right away for autocommit writes, after commit for writes inside a UnitOfWork, and never
// for a unit of work that rolls back.
//
//	coord := coherence.NewCoordinator(db, log)
//	users, _ := coherence.NewService(cfg, st, reader, log)
//
//	err := coord.Run(ctx, func(ctx context.Context, uow *coherence.UnitOfWork) error {
//		_, err := users.UpdateByID(ctx, uow, "42", store.Record{"status": "B"})
//		return err
//	})
package coherence

import (
	"context"
	"fmt"

	"github.com/gaborage/go-coherence/cache"
	"github.com/gaborage/go-coherence/logger"
	"github.com/gaborage/go-coherence/store"
)

// Service is the cached access to one entity. It is safe for concurrent use; a given
// UnitOfWork is not.
type Service struct {
	cfg     EntityConfig
	store   store.Store
	reader  *cache.Reader
	planner *Planner
	log     logger.Logger
}

// NewService validates cfg and builds the service.
func NewService(cfg EntityConfig, st store.Store, reader *cache.Reader, log logger.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := validateStruct(cfg.Name, cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		reader:  reader,
		planner: NewPlanner(cfg),
		log:     log.WithFields(map[string]any{"entity": cfg.Name}),
	}, nil
}

// Config returns the configuration with defaults applied.
func (s *Service) Config() EntityConfig { return s.cfg }

// Planner returns the invalidation planner of the entity.
func (s *Service) Planner() *Planner { return s.planner }

// Insert writes data and returns its key.
func (s *Service) Insert(ctx context.Context, uow *UnitOfWork, data store.Record) (string, error) {
	if err := uow.usable(); err != nil {
		return "", err
	}
	id, err := s.store.Insert(ctx, uow.Tx(), data)
	if err != nil {
		return "", err
	}

	row := data.Clone()
	if row == nil {
		row = store.Record{}
	}
	row[s.cfg.Key] = id
	return id, s.invalidate(ctx, uow, s.planner.Plan([]string{id}, []store.Record{row}))
}

// MInsert writes rows and returns their keys.
func (s *Service) MInsert(ctx context.Context, uow *UnitOfWork, rows []store.Record) ([]string, error) {
	if err := uow.usable(); err != nil {
		return nil, err
	}
	ids, err := s.store.MInsert(ctx, uow.Tx(), rows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	written := make([]store.Record, len(rows))
	for i, r := range rows {
		written[i] = r.Clone()
		if written[i] == nil {
			written[i] = store.Record{}
		}
		written[i][s.cfg.Key] = ids[i]
	}
	return ids, s.invalidate(ctx, uow, s.planner.Plan(ids, written))
}

// UpdateByID sets data on row id.
func (s *Service) UpdateByID(ctx context.Context, uow *UnitOfWork, id string, data store.Record) (int64, error) {
	return s.write(ctx, uow, []string{id}, data, false, func(ctx context.Context) (int64, error) {
		return s.store.UpdateByID(ctx, uow.Tx(), id, data)
	})
}

// UpdateByIDs sets data on every row in ids.
func (s *Service) UpdateByIDs(ctx context.Context, uow *UnitOfWork, ids []string, data store.Record) (int64, error) {
	return s.write(ctx, uow, ids, data, false, func(ctx context.Context) (int64, error) {
		return s.store.UpdateByIDs(ctx, uow.Tx(), ids, data)
	})
}

// UpdateForQueryByID sets data on row id when the row also matches query. Nothing is
// invalidated when no row matched.
func (s *Service) UpdateForQueryByID(ctx context.Context, uow *UnitOfWork, id string, query store.Query, data store.Record) (int64, error) {
	return s.write(ctx, uow, []string{id}, data, false, func(ctx context.Context) (int64, error) {
		return s.store.UpdateForQueryByID(ctx, uow.Tx(), id, query, data)
	})
}

// UpsertByID inserts or updates row id. It always invalidates.
func (s *Service) UpsertByID(ctx context.Context, uow *UnitOfWork, id string, data store.Record) (int64, error) {
	if err := uow.usable(); err != nil {
		return 0, err
	}
	rows, err := s.snapshot(ctx, uow, []string{id}, data, false)
	if err != nil {
		return 0, err
	}
	n, err := s.store.UpsertByID(ctx, uow.Tx(), id, data)
	if err != nil {
		return 0, err
	}
	return n, s.invalidate(ctx, uow, s.planner.Plan([]string{id}, rows))
}

// DeleteByIDs deletes the rows in ids.
func (s *Service) DeleteByIDs(ctx context.Context, uow *UnitOfWork, ids []string) (int64, error) {
	return s.write(ctx, uow, ids, nil, true, func(ctx context.Context) (int64, error) {
		return s.store.DeleteByIDs(ctx, uow.Tx(), ids)
	})
}

// Truncate empties the table and drops every namespace of the entity.
func (s *Service) Truncate(ctx context.Context, uow *UnitOfWork) error {
	if err := uow.usable(); err != nil {
		return err
	}
	if err := s.store.Truncate(ctx, uow.Tx()); err != nil {
		return err
	}
	return s.invalidate(ctx, uow, s.planner.PlanAll())
}

// Flush drops every cached entry of the entity and leaves the store alone. It is meant
// for operators recovering from writes that bypassed the service.
func (s *Service) Flush(ctx context.Context) error {
	return s.invalidate(ctx, nil, s.planner.PlanAll())
}

// write is the shared path of conditional writes: snapshot, write, skip on zero rows,
// plan, invalidate.
func (s *Service) write(ctx context.Context, uow *UnitOfWork, ids []string, data store.Record, always bool, exec func(context.Context) (int64, error)) (int64, error) {
	if err := uow.usable(); err != nil {
		return 0, err
	}
	rows, err := s.snapshot(ctx, uow, ids, data, always)
	if err != nil {
		return 0, err
	}

	n, err := exec(ctx)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.invalidate(ctx, uow, s.planner.Plan(ids, rows))
}

// snapshot returns the row versions a plan needs: the payload, plus the current rows when
// the payload touches a secondary field or always is set and secondary dimensions exist.
// Current rows are read on the write's transaction, bypassing the cache.
func (s *Service) snapshot(ctx context.Context, uow *UnitOfWork, ids []string, data store.Record, always bool) ([]store.Record, error) {
	rows := make([]store.Record, 0, len(ids)+1)
	if data != nil {
		rows = append(rows, data)
	}

	need := s.planner.HasSecondary() && (always || s.planner.Touches(data))
	if !need || len(ids) == 0 {
		return rows, nil
	}

	logger.IncrementStoreReads(ctx)
	before, err := s.store.MGetByIDs(ctx, uow.Tx(), ids)
	if err != nil {
		return nil, fmt.Errorf("coherence: snapshot %s: %w", s.cfg.Name, err)
	}
	for _, id := range ids {
		if r, ok := before[id]; ok {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

// invalidate deletes groups now, or after commit when uow is set. An immediate failure is
// returned as *InvalidationError; the write stays applied.
func (s *Service) invalidate(ctx context.Context, uow *UnitOfWork, groups []cache.KeyGroup) error {
	if len(groups) == 0 {
		return nil
	}
	drop := func(ctx context.Context) error {
		return s.reader.MDelete(ctx, groups)
	}

	if uow != nil {
		return uow.Register(drop)
	}

	if err := drop(ctx); err != nil {
		s.log.Warn().Err(err).Int("groups", len(groups)).Msg("Cache invalidation failed after write")
		return &InvalidationError{Entity: s.cfg.Name, Err: err}
	}
	return nil
}
