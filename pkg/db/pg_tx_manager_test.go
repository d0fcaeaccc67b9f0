package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx covers only the lifecycle methods inTx touches; everything else
// panics through the embedded nil interface.
type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	beginErr error
}

func (b *fakeBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return b.tx, b.beginErr
}

func TestInTxCommitErrorPropagates(t *testing.T) {
	boom := errors.New("commit refused")
	b := &fakeBeginner{tx: &fakeTx{commitErr: boom}}
	m := &PgTxManager{}

	err := m.inTx(context.Background(), b, pgx.TxOptions{}, func(context.Context, pgx.Tx) error {
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("commit error swallowed: %v", err)
	}
}

func TestInTxFnErrorRollsBack(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	m := &PgTxManager{}

	err := m.inTx(context.Background(), b, pgx.TxOptions{}, func(context.Context, pgx.Tx) error {
		return errors.New("write failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !b.tx.rolledBack || b.tx.committed {
		t.Fatalf("rolledBack=%v committed=%v", b.tx.rolledBack, b.tx.committed)
	}
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	m := &PgTxManager{}

	err := m.inTx(context.Background(), b, pgx.TxOptions{}, func(context.Context, pgx.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", b.tx.committed, b.tx.rolledBack)
	}
}
