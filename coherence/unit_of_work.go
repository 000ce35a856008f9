package coherence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gaborage/go-coherence/database/types"
	"github.com/gaborage/go-coherence/logger"
)

// Action is deferred work that runs only after its unit of work commits.
type Action func(ctx context.Context) error

// Work is the body of a unit of work.
type Work func(ctx context.Context, uow *UnitOfWork) error

// UnitOfWork is one open transaction together with the actions waiting for its commit.
// It belongs to the goroutine running it and must not be shared.
type UnitOfWork struct {
	tx      types.Tx
	actions []Action
	closed  bool
}

// Tx returns the transaction. A nil unit of work returns nil, which store methods treat as
// autocommit.
func (u *UnitOfWork) Tx() types.Tx {
	if u == nil {
		return nil
	}
	return u.tx
}

// Register queues action behind the commit, after every action registered before it.
func (u *UnitOfWork) Register(action Action) error {
	if u == nil {
		return ErrMissingTransactionContext
	}
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	u.actions = append(u.actions, action)
	return nil
}

// Pending returns the number of queued actions.
func (u *UnitOfWork) Pending() int {
	if u == nil {
		return 0
	}
	return len(u.actions)
}

// usable rejects a closed unit of work. Nil is usable and means autocommit.
func (u *UnitOfWork) usable() error {
	if u != nil && u.closed {
		return ErrUnitOfWorkClosed
	}
	return nil
}

// RegisterInvalidation queues action on uow.
func RegisterInvalidation(uow *UnitOfWork, action Action) error {
	return uow.Register(action)
}

// Coordinator runs units of work and gates their actions on commit.
type Coordinator struct {
	db  types.Transactor
	log logger.Logger
}

// NewCoordinator creates a coordinator starting transactions on db.
func NewCoordinator(db types.Transactor, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{db: db, log: log}
}

// Run begins a transaction and executes work in it. See Execute.
func (c *Coordinator) Run(ctx context.Context, work Work) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("coherence: begin transaction: %w", err)
	}
	return c.Execute(ctx, tx, work)
}

// Execute runs work on tx and commits it. Queued actions run in registration order once
// the commit succeeded, each finishing before the next starts. When work fails or panics,
// or the commit fails, tx is rolled back and no action runs; panics are re-raised after
// the rollback.
//
// Every action runs even if an earlier one fails. Their failures come back joined in an
// *InvalidationError; the committed data stays.
func (c *Coordinator) Execute(ctx context.Context, tx types.Tx, work Work) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "coherence.unit_of_work")
	uow := &UnitOfWork{tx: tx}

	outcome := outcomeRolledBack
	defer func() {
		uow.closed = true
		if outcome != outcomeCommitted {
			uow.actions = nil
		}
		r := recover()
		if r != nil {
			c.rollback(tx, "panic")
			outcome = outcomePanicked
			err = fmt.Errorf("panic: %v", r)
		}
		endSpan(span, outcome, err)
		if r != nil {
			panic(r)
		}
	}()

	if err := work(ctx, uow); err != nil {
		c.rollback(tx, "work failed")
		return err
	}

	if err := tx.Commit(); err != nil {
		c.rollback(tx, "commit failed")
		outcome = outcomeCommitFailed
		return fmt.Errorf("coherence: commit: %w", err)
	}
	outcome = outcomeCommitted
	uow.closed = true

	span.SetAttributes(attribute.Int("coherence.actions", len(uow.actions)))
	return c.flush(ctx, uow.actions)
}

func (c *Coordinator) rollback(tx types.Tx, reason string) {
	if err := tx.Rollback(); err != nil && !isTxDone(err) {
		c.log.Error().Err(err).Str("reason", reason).Msg("Transaction rollback failed")
	}
}

func isTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone)
}

// flush runs the post-commit actions. They run detached from ctx cancellation: the data is
// committed, and dropping invalidations halfway would leave stale entries behind.
func (c *Coordinator) flush(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	c.log.Debug().Int("actions", len(actions)).Msg("Running post-commit actions")

	var errs []error
	for i, action := range actions {
		if err := action(ctx); err != nil {
			c.log.Warn().Err(err).Int("action", i).Msg("Post-commit action failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &InvalidationError{Err: errors.Join(errs...)}
	}
	return nil
}

// Transaction runs work like Coordinator.Run and returns its result. The result is also
// returned alongside an *InvalidationError, since the data was committed.
func Transaction[T any](ctx context.Context, c *Coordinator, work func(ctx context.Context, uow *UnitOfWork) (T, error)) (T, error) {
	var out T
	err := c.Run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		v, err := work(ctx, uow)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var invErr *InvalidationError
		if !errors.As(err, &invErr) {
			var zero T
			return zero, err
		}
	}
	return out, err
}
