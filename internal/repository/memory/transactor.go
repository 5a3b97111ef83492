package memory

import (
	"context"

	"github.com/NordCoder/Studymate/internal/domain/auth"
)

var _ auth.Transactor = Transactor{}

// Transactor runs fn directly; memory backends have no rollback.
type Transactor struct{}

func (Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
