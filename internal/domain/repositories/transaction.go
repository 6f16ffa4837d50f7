package repositories

import "context"

// TxFn runs within a transaction.
type TxFn func(ctx context.Context) error

// TransactionManager scopes a function to one database transaction.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
