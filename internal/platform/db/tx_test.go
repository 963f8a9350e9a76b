package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct{ pgx.Tx }

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), txKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Errorf("expected nil tx for wrong type, got %v", tx)
	}
}

func TestWithTx_NestedJoinsOuter(t *testing.T) {
	// The pool is never touched when a transaction is already in ctx.
	var outer fakeTx
	ctx := context.WithValue(context.Background(), txKey, &outer)

	called := false
	boom := errors.New("boom")
	err := WithTx(ctx, nil, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) != &outer {
			t.Error("expected nested call to see the outer transaction")
		}
		return boom
	})
	if !called {
		t.Fatal("expected fn to run")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected fn error to propagate, got %v", err)
	}
}
