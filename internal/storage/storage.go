// Package storage определяет контракт хранилища сервиса вознаграждений
// и его реализации: PostgreSQL (основное хранилище) и BoltDB
// (локальный резервный вариант).
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecosort/rewards-system/internal/model"
)

// ErrVoucherNotFound возвращается, если ваучер не найден.
var (
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrVoucherOutOfStock возвращается при попытке списать остаток ваучера, равный нулю.
	ErrVoucherOutOfStock = errors.New("voucher out of stock")
	// ErrRedemptionNotFound возвращается, если запись об обмене не найдена.
	ErrRedemptionNotFound = errors.New("redemption not found")
	// ErrCodeConflict возвращается при коллизии кода ваучера с уже существующим.
	ErrCodeConflict = errors.New("voucher code already exists")
	// ErrStorageUnavailable помечает временные ошибки хранилища: операцию можно повторить целиком.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// InsufficientPointsError возвращается при попытке списать больше баллов, чем есть на счёте.
type InsufficientPointsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: required %d, available %d", e.Required, e.Available)
}

// Storage описывает контракт доступа к данным, используемый всеми
// компонентами сервиса. Бизнес-логика пишется только против этого
// интерфейса и никогда не знает, какая реализация выбрана при старте.
type Storage interface {
	Close() error

	// Каталог ваучеров. Запись ваучеров выполняет управление каталогом,
	// остаток меняется только через Decrement/Increment.
	SaveVoucher(ctx context.Context, v *model.Voucher) error
	GetVoucher(ctx context.Context, id string) (*model.Voucher, error)
	ListActiveVouchers(ctx context.Context) ([]model.Voucher, error)
	// DecrementVoucherStock атомарно уменьшает остаток на 1, если он больше нуля.
	// Для ваучера без отслеживаемого остатка — успешный no-op.
	DecrementVoucherStock(ctx context.Context, id string) error
	IncrementVoucherStock(ctx context.Context, id string) error

	// Счета баллов. Несуществующий счёт читается как нулевой баланс,
	// CreditPoints создаёт счёт при первом начислении.
	GetPoints(ctx context.Context, userID string) (int64, error)
	// DebitPoints списывает amount, сериализуясь с конкурентными списаниями
	// того же пользователя. При нехватке баллов — *InsufficientPointsError.
	DebitPoints(ctx context.Context, userID string, amount int64) error
	CreditPoints(ctx context.Context, userID string, amount int64) error

	// Обмены.
	CreateRedemption(ctx context.Context, r *model.Redemption) error
	GetRedemption(ctx context.Context, id string) (*model.Redemption, error)
	ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, id string, status model.RedemptionStatus, usedAt *time.Time) error

	// Журнал движения баллов, только добавление.
	AppendTransaction(ctx context.Context, e *model.TransactionEntry) error
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.TransactionEntry, error)
}
