package enrich

import (
	"context"
	"errors"
	"fmt"
)

// Transaction property names.
const (
	PropActivityID                = "Transaction.ActivityId"
	PropApplicationID             = "Transaction.ApplicationId"
	PropTransactionID             = "Transaction.TransactionId"
	PropDirectCallerAccountName   = "Transaction.DirectCallerAccountName"
	PropOriginalCallerAccountName = "Transaction.OriginalCallerAccountName"
)

var (
	// ErrNoTransaction is returned when no transaction is attached to the context.
	ErrNoTransaction = errors.New("no transaction in context")

	// ErrNotEstablished is returned when the transaction lacks the requested value.
	ErrNotEstablished = errors.New("value not established")
)

// Transaction is the ambient state of a unit of work: the activity being
// traced, the application and transaction it belongs to and the chain of
// callers that initiated it.
type Transaction struct {
	ActivityID     string
	ApplicationID  string
	TransactionID  string
	DirectCaller   string
	OriginalCaller string
}

type txKey struct{}

// WithTransaction attaches tx to ctx.
func WithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TransactionFromContext returns the transaction attached to ctx.
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(Transaction)
	return tx, ok
}

// ContextUtils reads transaction facts from ambient context. Each method
// may fail independently.
type ContextUtils interface {
	ActivityID(ctx context.Context) (string, error)
	ApplicationID(ctx context.Context) (string, error)
	TransactionID(ctx context.Context) (string, error)
	DirectCallerAccountName(ctx context.Context) (string, error)
	OriginalCallerAccountName(ctx context.Context) (string, error)
}

// AmbientContext implements ContextUtils on top of WithTransaction.
type AmbientContext struct{}

func (AmbientContext) ActivityID(ctx context.Context) (string, error) {
	return lookup(ctx, "activity id", func(tx Transaction) string { return tx.ActivityID })
}

func (AmbientContext) ApplicationID(ctx context.Context) (string, error) {
	return lookup(ctx, "application id", func(tx Transaction) string { return tx.ApplicationID })
}

func (AmbientContext) TransactionID(ctx context.Context) (string, error) {
	return lookup(ctx, "transaction id", func(tx Transaction) string { return tx.TransactionID })
}

func (AmbientContext) DirectCallerAccountName(ctx context.Context) (string, error) {
	return lookup(ctx, "direct caller", func(tx Transaction) string { return tx.DirectCaller })
}

func (AmbientContext) OriginalCallerAccountName(ctx context.Context) (string, error) {
	return lookup(ctx, "original caller", func(tx Transaction) string { return tx.OriginalCaller })
}

func lookup(ctx context.Context, field string, pick func(Transaction) string) (string, error) {
	tx, ok := TransactionFromContext(ctx)
	if !ok {
		return "", ErrNoTransaction
	}
	v := pick(tx)
	if v == "" {
		return "", fmt.Errorf("%s: %w", field, ErrNotEstablished)
	}
	return v, nil
}

// NewTransactionProvider returns a provider reading transaction facts from
// the context passed to PopulateDictionary.
func NewTransactionProvider(opts ...Option) *Provider {
	return NewTransactionProviderWith(AmbientContext{}, opts...)
}

// NewTransactionProviderWith returns a transaction provider backed by utils.
func NewTransactionProviderWith(utils ContextUtils, opts ...Option) *Provider {
	return NewProvider("transaction", []Property{
		{Name: PropActivityID, Get: utils.ActivityID},
		{Name: PropApplicationID, Get: utils.ApplicationID},
		{Name: PropTransactionID, Get: utils.TransactionID},
		{Name: PropDirectCallerAccountName, Get: utils.DirectCallerAccountName},
		{Name: PropOriginalCallerAccountName, Get: utils.OriginalCallerAccountName},
	}, opts...)
}
