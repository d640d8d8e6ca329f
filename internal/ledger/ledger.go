// Package ledger реализует счёт баллов пользователя поверх контракта хранилища.
package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ecosort/rewards-system/internal/storage"
)

// ErrNonPositiveAmount возвращается при попытке движения на нулевую или отрицательную сумму.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// Ledger — авторитетный источник баланса баллов пользователя.
type Ledger struct {
	store  storage.Storage
	logger *zap.Logger
}

// New создаёт счёт баллов поверх указанного хранилища.
func New(store storage.Storage, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// GetBalance возвращает текущий баланс пользователя.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	return l.store.GetPoints(ctx, userID)
}

// Debit списывает amount баллов. Хранилище сериализует конкурентные
// списания одного пользователя; при нехватке баллов возвращается
// *storage.InsufficientPointsError, баланс не меняется.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	return l.store.DebitPoints(ctx, userID, amount)
}

// Credit начисляет amount баллов. Используется и для начислений за
// сданное вторсырьё, и для компенсации неудавшегося обмена; reason
// попадает в лог для разбора начислений.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}

	if err := l.store.CreditPoints(ctx, userID, amount); err != nil {
		return err
	}

	l.logger.Debug("points credited",
		zap.String("userID", userID),
		zap.Int64("amount", amount),
		zap.String("reason", reason),
	)

	return nil
}
