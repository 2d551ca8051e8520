package ports

import (
	"context"

	"github.com/qortal/qortd/internal/core/domain"
)

// RepoManager gives access to the repositories and to the transactional
// session they share.
type RepoManager interface {
	ATRepository() domain.ATRepository
	BlockRepository() domain.BlockRepository
	TradeBotRepository() domain.TradeBotRepository

	// RunTransaction executes handler within a transaction carried by the ctx
	// passed to it. The transaction is committed if handler succeeds, rolled
	// back otherwise, even on panic. Nested calls join the outer transaction.
	RunTransaction(
		ctx context.Context,
		readOnly bool,
		handler func(ctx context.Context) (interface{}, error),
	) (interface{}, error)
	// SetSavepoint marks the current point of the transaction in ctx.
	SetSavepoint(ctx context.Context) error
	// RollbackToSavepoint reverts the writes made by the transaction in ctx
	// after the most recent savepoint, and drops it.
	RollbackToSavepoint(ctx context.Context) error

	Close()
}
