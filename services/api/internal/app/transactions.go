package app

import (
	"context"

	"github.com/shopspring/decimal"

	"hustl/pkg/domain"
)

// Transactions is the wallet view over recorded payments.
type Transactions struct {
	app *App
}

// ListForUser returns transactions the user paid or received, newest first.
func (t *Transactions) ListForUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	if err := ensureSelf(ctx, userID); err != nil {
		return nil, err
	}
	return t.app.store.ListTransactionsFor(ctx, userID)
}

// Summary totals completed transactions.
func (t *Transactions) Summary(ctx context.Context, userID string) (domain.WalletSummary, error) {
	txs, err := t.ListForUser(ctx, userID)
	if err != nil {
		return domain.WalletSummary{}, err
	}
	return summarize(userID, txs), nil
}

func summarize(userID string, txs []domain.Transaction) domain.WalletSummary {
	sum := domain.WalletSummary{Earned: decimal.Zero, Spent: decimal.Zero}
	for _, tx := range txs {
		if tx.Status != domain.TransactionCompleted {
			continue
		}
		if tx.PayeeID == userID {
			sum.Earned = sum.Earned.Add(tx.Amount)
		}
		if tx.PayerID == userID {
			sum.Spent = sum.Spent.Add(tx.Amount)
		}
	}
	return sum
}
