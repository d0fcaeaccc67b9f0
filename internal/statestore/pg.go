package statestore

import (
	"context"
	"fmt"

	"trade_engine/pkg/db"

	"github.com/jackc/pgx/v5"
)

const (
	upsertSQL = `INSERT INTO execution_state (strategy, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (strategy) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`
	selectSQL = `SELECT state FROM execution_state WHERE strategy = $1`
	deleteSQL = `DELETE FROM execution_state WHERE strategy = $1`
)

// PgPersister mirrors state blobs into postgres, one row per strategy,
// each write inside its own transaction.
type PgPersister struct {
	tm *db.PgTxManager
}

func NewPgPersister(tm *db.PgTxManager) *PgPersister {
	return &PgPersister{tm: tm}
}

func (p *PgPersister) Save(ctx context.Context, strategy string, blob []byte) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgPersister.Save: %w", err)
		}
	}()
	return p.tm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, upsertSQL, strategy, blob)
		return err
	})
}

func (p *PgPersister) Load(ctx context.Context, strategy string) (blob []byte, found bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgPersister.Load: %w", err)
		}
	}()
	err = p.tm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctxTx, selectSQL, strategy)
		if scanErr := row.Scan(&blob); scanErr != nil {
			if scanErr == pgx.ErrNoRows {
				return nil
			}
			return scanErr
		}
		found = true
		return nil
	})
	return blob, found, err
}

func (p *PgPersister) Delete(ctx context.Context, strategy string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgPersister.Delete: %w", err)
		}
	}()
	return p.tm.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, deleteSQL, strategy)
		return err
	})
}
