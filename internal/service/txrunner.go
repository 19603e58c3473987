package service

import (
	"context"

	"basegraph.app/ghsync/core/db"
	"basegraph.app/ghsync/internal/store"
)

// StoreProvider exposes only the stores needed by a transactional operation.
type StoreProvider interface {
	Installations() store.InstallationStore
	Repos() store.RepoStore
	Issues() store.IssueStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(database *db.DB) TxRunner {
	return &dbTxRunner{db: database}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(tx db.DBTX) error {
		return fn(store.NewStores(tx, 0))
	})
}
