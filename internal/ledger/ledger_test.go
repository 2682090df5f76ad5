package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/digistore/internal/model"
)

var errNotFound = errors.New("not found")

type stubTx struct {
	users  map[int64]*model.User
	locked []int64
	writes int
}

func (s *stubTx) LockUser(ctx context.Context, shopID model.ShopID, userID int64) (*model.User, error) {
	u, ok := s.users[userID]
	if !ok || u.ShopID != shopID {
		return nil, errNotFound
	}
	s.locked = append(s.locked, userID)
	c := *u
	return &c, nil
}

func (s *stubTx) SetUserCredit(ctx context.Context, userID int64, credit decimal.Decimal) error {
	s.writes++
	s.users[userID].Credit = credit
	return nil
}

func newStub(credit string) *stubTx {
	return &stubTx{users: map[int64]*model.User{
		1: {ID: 1, ShopID: 3, Credit: decimal.RequireFromString(credit)},
	}}
}

func TestDebit(t *testing.T) {
	tx := newStub("200.00")

	next, err := Debit(context.Background(), tx, 3, 1, decimal.RequireFromString("100.00"))
	require.NoError(t, err)

	assert.Equal(t, "100.00", next.StringFixed(2))
	assert.Equal(t, "100.00", tx.users[1].Credit.StringFixed(2))
	assert.Equal(t, []int64{1}, tx.locked)
}

func TestDebit_ExactBalance(t *testing.T) {
	tx := newStub("0.30")

	next, err := Debit(context.Background(), tx, 3, 1, decimal.RequireFromString("0.10").Add(decimal.RequireFromString("0.20")))
	require.NoError(t, err)
	assert.True(t, next.IsZero())
}

func TestDebit_InsufficientCredit(t *testing.T) {
	tx := newStub("10.00")

	_, err := Debit(context.Background(), tx, 3, 1, decimal.RequireFromString("10.01"))
	assert.ErrorIs(t, err, ErrInsufficientCredit)
	assert.Zero(t, tx.writes)
	assert.Equal(t, "10.00", tx.users[1].Credit.StringFixed(2))
}

func TestDebit_WrongTenant(t *testing.T) {
	tx := newStub("10.00")

	_, err := Debit(context.Background(), tx, 4, 1, decimal.RequireFromString("1"))
	assert.ErrorIs(t, err, errNotFound)
}

func TestCredit(t *testing.T) {
	tx := newStub("5.50")

	next, err := Credit(context.Background(), tx, 3, 1, decimal.RequireFromString("50"))
	require.NoError(t, err)
	assert.Equal(t, "55.50", next.StringFixed(2))
}

func TestZeroAmount(t *testing.T) {
	tx := newStub("12.34")

	next, err := Debit(context.Background(), tx, 3, 1, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "12.34", next.StringFixed(2))

	next, err = Credit(context.Background(), tx, 3, 1, decimal.RequireFromString("0.00"))
	require.NoError(t, err)
	assert.Equal(t, "12.34", next.StringFixed(2))

	assert.Equal(t, []int64{1, 1}, tx.locked)
	assert.Zero(t, tx.writes)
}

func TestInvalidAmounts(t *testing.T) {
	tests := []struct {
		name   string
		amount string
	}{
		{name: "negative", amount: "-1"},
		{name: "sub cent", amount: "0.001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newStub("100")
			_, err := Credit(context.Background(), tx, 3, 1, decimal.RequireFromString(tt.amount))
			assert.ErrorIs(t, err, ErrInvalidAmount)
			_, err = Debit(context.Background(), tx, 3, 1, decimal.RequireFromString(tt.amount))
			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.Empty(t, tx.locked)
		})
	}
}
