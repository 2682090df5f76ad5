// Package ledger содержит операции с балансом. Обе выполняются в транзакции
// вызывающего и блокируют строку пользователя перед изменением.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digistore/internal/model"
)

var (
	// ErrInsufficientCredit возвращается, если списание сделает баланс отрицательным.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrInvalidAmount возвращается для отрицательных сумм и сумм точнее 0.01.
	ErrInvalidAmount = errors.New("invalid amount")
)

// UserTx часть транзакции, нужная для операций с балансом.
type UserTx interface {
	LockUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error)
	SetUserCredit(ctx context.Context, userID int64, credit decimal.Decimal) error
}

// Debit списывает amount с баланса пользователя и возвращает новый баланс.
// Нулевая сумма только блокирует строку. При ошибке вызывающий откатывает транзакцию.
func Debit(ctx context.Context, tx UserTx, shopID model.ShopID, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	u, err := tx.LockUser(ctx, shopID, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock user: %w", err)
	}

	if amount.IsZero() {
		return u.Credit, nil
	}

	next := u.Credit.Sub(amount)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientCredit
	}

	if err := tx.SetUserCredit(ctx, userID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// Credit зачисляет amount на баланс пользователя и возвращает новый баланс.
func Credit(ctx context.Context, tx UserTx, shopID model.ShopID, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	u, err := tx.LockUser(ctx, shopID, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock user: %w", err)
	}

	if amount.IsZero() {
		return u.Credit, nil
	}

	next := u.Credit.Add(amount)
	if err := tx.SetUserCredit(ctx, userID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than 2 decimal places", ErrInvalidAmount, amount)
	}
	return nil
}
