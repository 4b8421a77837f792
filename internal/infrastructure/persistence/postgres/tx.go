package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/retry"
)

type txKey struct{}

// TxManager implements shared.Transactor. The open pgx.Tx travels in the
// context; repositories pick it up through Connection.querier.
type TxManager struct {
	conn    *Connection
	retrier *retry.Retrier
	logger  *slog.Logger
}

var _ shared.Transactor = (*TxManager)(nil)

// NewTxManager creates a new TxManager.
func NewTxManager(conn *Connection, log *slog.Logger) *TxManager {
	log = logger.OrDefault(log).With(logger.Component("tx_manager"))
	return &TxManager{
		conn:    conn,
		retrier: retry.DatabaseRetrier(IsTransient),
		logger:  log,
	}
}

// WithinTx runs fn in a read-committed transaction. A call nested inside
// another WithinTx joins the outer transaction. Serialization failures and
// deadlocks replay fn from the start.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	return m.retrier.Do(ctx, func(ctx context.Context) error {
		tx, err := m.conn.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}

		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback(ctx)
				panic(p)
			}
		}()

		if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				m.logger.Error("rollback failed", logger.Err(rbErr))
			}
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}
