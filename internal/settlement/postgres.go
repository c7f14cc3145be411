package settlement

import (
	"context"

	"github.com/fjod/go_shop/internal/repository"
)

type PostgresStore struct {
	*repository.Repository
}

func NewPostgresStore(repo *repository.Repository) PostgresStore {
	return PostgresStore{Repository: repo}
}

func (s PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return s.WithTx(ctx, func(tx *repository.Tx) error {
		return fn(tx)
	})
}
