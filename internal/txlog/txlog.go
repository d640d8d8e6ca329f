// Package txlog реализует журнал движения баллов поверх контракта хранилища.
package txlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ecosort/rewards-system/internal/model"
	"github.com/ecosort/rewards-system/internal/storage"
)

// Log — журнал движения баллов, только добавление. Журнал служит для
// аудита: авторитетный баланс хранит счёт баллов, а не сумма записей.
type Log struct {
	store storage.Storage
}

// New создаёт журнал поверх указанного хранилища.
func New(store storage.Storage) *Log {
	return &Log{store: store}
}

// Append сохраняет запись, проставляя идентификатор и время создания.
func (l *Log) Append(ctx context.Context, e model.TransactionEntry) (*model.TransactionEntry, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()

	if err := l.store.AppendTransaction(ctx, &e); err != nil {
		return nil, err
	}

	return &e, nil
}

// ListForUser возвращает до limit записей пользователя, свежие первыми.
func (l *Log) ListForUser(ctx context.Context, userID string, limit int) ([]model.TransactionEntry, error) {
	return l.store.ListTransactionsByUser(ctx, userID, limit)
}

// RecomputeBalance суммирует знаковые записи журнала пользователя.
// Используется только для сверки с авторитетным балансом: earned и bonus
// учитываются с плюсом, redeemed с минусом.
func (l *Log) RecomputeBalance(ctx context.Context, userID string) (int64, error) {
	entries, err := l.store.ListTransactionsByUser(ctx, userID, 0)
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, e := range entries {
		sum += e.Points
	}

	return sum, nil
}
