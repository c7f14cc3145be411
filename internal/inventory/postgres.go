package inventory

import (
	"context"

	"github.com/fjod/go_shop/internal/repository"
)

// PostgresStore runs ledger scopes as repository transactions.
type PostgresStore struct {
	*repository.Repository
}

func NewPostgresStore(repo *repository.Repository) PostgresStore {
	return PostgresStore{Repository: repo}
}

func (s PostgresStore) InScope(ctx context.Context, fn func(Scope) error) error {
	return s.WithTx(ctx, func(tx *repository.Tx) error {
		return fn(tx)
	})
}
