// Package service реализует бизнес-логику сервиса вознаграждений:
// обмен баллов на ваучеры с компенсацией незавершённых шагов,
// начисление баллов и работу с историей обменов.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecosort/rewards-system/internal/catalog"
	"github.com/ecosort/rewards-system/internal/ledger"
	"github.com/ecosort/rewards-system/internal/model"
	"github.com/ecosort/rewards-system/internal/storage"
	"github.com/ecosort/rewards-system/internal/txlog"
)

// ErrRedemptionFinished возвращается при попытке использовать обмен в терминальном статусе.
var ErrRedemptionFinished = errors.New("redemption already used or expired")

// Service связывает каталог, счёт баллов и журнал в операции сервиса
// вознаграждений. Записи об обменах сервис ведёт напрямую в хранилище.
type Service struct {
	catalog *catalog.Catalog
	ledger  *ledger.Ledger
	txlog   *txlog.Log
	store   storage.Storage
	logger  *zap.Logger
}

// NewService создаёт сервис поверх указанного хранилища.
func NewService(store storage.Storage, logger *zap.Logger) *Service {
	return &Service{
		catalog: catalog.New(store),
		ledger:  ledger.New(store, logger),
		txlog:   txlog.New(store),
		store:   store,
		logger:  logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// ListVouchers возвращает активные ваучеры по возрастанию стоимости.
func (s *Service) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	return s.catalog.ListActive(ctx)
}

// GetVoucher возвращает активный ваучер; скрытый из каталога ваучер
// для пользователя неотличим от несуществующего.
func (s *Service) GetVoucher(ctx context.Context, id string) (*model.Voucher, error) {
	v, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.IsActive {
		return nil, storage.ErrVoucherNotFound
	}
	return v, nil
}

// ListAffordableVouchers возвращает ваучеры, на которые пользователю хватает баллов.
func (s *Service) ListAffordableVouchers(ctx context.Context, userID string) ([]model.Voucher, error) {
	points, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.catalog.FilterAffordable(ctx, points)
}

// GetBalance возвращает баланс баллов пользователя.
func (s *Service) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	points, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{Current: points}, nil
}

// EarnPoints начисляет баллы за сданное вторсырьё или бонус и добавляет
// запись в журнал. Неудачное добавление записи начисление не отменяет:
// журнал — вспомогательный аудит, а не источник истины по балансу.
func (s *Service) EarnPoints(ctx context.Context, userID string, amount int64, entryType model.TransactionType, description string, metadata map[string]string) (*model.TransactionEntry, error) {
	if entryType != model.TransactionEarned && entryType != model.TransactionBonus {
		return nil, fmt.Errorf("unexpected earn entry type: %s", entryType)
	}

	if err := s.ledger.Credit(ctx, userID, amount, description); err != nil {
		return nil, err
	}

	entry, err := s.txlog.Append(ctx, model.TransactionEntry{
		UserID:      userID,
		Type:        entryType,
		Points:      amount,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		s.logger.Error("transaction log append failed after credit",
			zap.Error(err),
			zap.String("userID", userID),
			zap.Int64("amount", amount),
		)
		return &model.TransactionEntry{
			UserID:      userID,
			Type:        entryType,
			Points:      amount,
			Description: description,
			Metadata:    metadata,
		}, nil
	}

	return entry, nil
}

// Redeem обменивает баллы пользователя на ваучер.
//
// Порядок шагов фиксирован: сначала все проверки, затем мутации.
// Нативной транзакции через все таблицы нет, поэтому ошибка после
// мутирующего шага запускает компенсацию уже выполненных шагов в
// обратном порядке. Гарантия: при любой возвращённой ошибке суммарное
// влияние на баланс и остаток равно нулю.
func (s *Service) Redeem(ctx context.Context, userID, voucherID string) (*model.Redemption, error) {
	v, err := s.catalog.GetByID(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if !v.IsActive {
		return nil, storage.ErrVoucherNotFound
	}

	if v.StockTracked() && *v.CurrentStock <= 0 {
		return nil, storage.ErrVoucherOutOfStock
	}

	available, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w: %v", storage.ErrStorageUnavailable, err)
	}
	if available < v.PointsRequired {
		return nil, &storage.InsufficientPointsError{Required: v.PointsRequired, Available: available}
	}

	// Шаг 1: списание баллов. Хранилище само сериализует конкурентные
	// списания, поэтому проверка выше — только быстрый отказ.
	if err := s.ledger.Debit(ctx, userID, v.PointsRequired); err != nil {
		var insufficientErr *storage.InsufficientPointsError
		if errors.As(err, &insufficientErr) {
			return nil, err
		}
		return nil, fmt.Errorf("debit points: %w: %v", storage.ErrStorageUnavailable, err)
	}

	// Шаг 2: списание остатка.
	if err := s.catalog.DecrementStock(ctx, voucherID); err != nil {
		s.compensate(ctx, userID, voucherID, v.PointsRequired, false)
		if errors.Is(err, storage.ErrVoucherOutOfStock) || errors.Is(err, storage.ErrVoucherNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("decrement stock: %w: %v", storage.ErrStorageUnavailable, err)
	}

	// Шаг 3: запись об обмене. Код генерируется заново при коллизии,
	// количество попыток ограничено.
	redemption, err := s.persistRedemption(ctx, userID, v)
	if err != nil {
		s.compensate(ctx, userID, voucherID, v.PointsRequired, true)
		return nil, fmt.Errorf("persist redemption: %w: %v", storage.ErrStorageUnavailable, err)
	}

	// Шаг 4: запись в журнал. Ошибка здесь обмен не отменяет, только
	// логируется: сверка RecomputeBalance обнаружит расхождение.
	_, err = s.txlog.Append(ctx, model.TransactionEntry{
		UserID:      userID,
		Type:        model.TransactionRedeemed,
		Points:      -v.PointsRequired,
		Description: fmt.Sprintf("redeemed voucher %q", v.Title),
		Metadata: map[string]string{
			"voucherId":    v.ID,
			"voucherCode":  redemption.VoucherCode,
			"redemptionId": redemption.ID,
		},
	})
	if err != nil {
		s.logger.Error("transaction log append failed after redemption",
			zap.Error(err),
			zap.String("userID", userID),
			zap.String("redemptionID", redemption.ID),
		)
	}

	redemption.Voucher = v
	return redemption, nil
}

func (s *Service) persistRedemption(ctx context.Context, userID string, v *model.Voucher) (*model.Redemption, error) {
	now := time.Now().UTC()

	var lastErr error
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := generateVoucherCode(v.ID, now)
		if err != nil {
			return nil, err
		}

		r := &model.Redemption{
			ID:          uuid.NewString(),
			UserID:      userID,
			VoucherID:   v.ID,
			VoucherCode: code,
			PointsUsed:  v.PointsRequired,
			Status:      model.RedemptionStatusActive,
			RedeemedAt:  now,
			ExpiresAt:   now.Add(time.Duration(v.ValidityDays) * 24 * time.Hour),
		}

		lastErr = s.store.CreateRedemption(ctx, r)
		if lastErr == nil {
			return r, nil
		}
		if !errors.Is(lastErr, storage.ErrCodeConflict) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("voucher code retries exhausted: %w", lastErr)
}

// compensate отменяет мутации незавершённого обмена в обратном порядке.
// Неудачная компенсация логируется: её обнаружит сверка журнала.
func (s *Service) compensate(ctx context.Context, userID, voucherID string, points int64, stockDecremented bool) {
	if stockDecremented {
		if err := s.catalog.IncrementStock(ctx, voucherID); err != nil {
			s.logger.Error("compensation failed: stock not restored",
				zap.Error(err),
				zap.String("voucherID", voucherID),
			)
		}
	}

	if err := s.ledger.Credit(ctx, userID, points, "compensation for failed redemption"); err != nil {
		s.logger.Error("compensation failed: points not restored",
			zap.Error(err),
			zap.String("userID", userID),
			zap.Int64("points", points),
		)
	}
}

// ListRedemptions возвращает обмены пользователя. Истечение срока
// определяется лениво при чтении; новый статус дописывается в хранилище
// по возможности, ответ от записи не зависит.
func (s *Service) ListRedemptions(ctx context.Context, userID string) ([]model.Redemption, error) {
	redemptions, err := s.store.ListRedemptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range redemptions {
		s.applyLazyExpiry(ctx, &redemptions[i], now)
	}

	return redemptions, nil
}

// MarkRedemptionUsed переводит активный обмен в статус used.
// used и expired терминальны.
func (s *Service) MarkRedemptionUsed(ctx context.Context, userID, redemptionID string) (*model.Redemption, error) {
	r, err := s.store.GetRedemption(ctx, redemptionID)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, storage.ErrRedemptionNotFound
	}

	s.applyLazyExpiry(ctx, r, time.Now().UTC())

	if r.Status != model.RedemptionStatusActive {
		return nil, ErrRedemptionFinished
	}

	usedAt := time.Now().UTC()
	if err := s.store.UpdateRedemptionStatus(ctx, r.ID, model.RedemptionStatusUsed, &usedAt); err != nil {
		return nil, fmt.Errorf("mark used: %w: %v", storage.ErrStorageUnavailable, err)
	}

	r.Status = model.RedemptionStatusUsed
	r.UsedAt = &usedAt
	return r, nil
}

// ListTransactions возвращает до limit записей журнала пользователя.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]model.TransactionEntry, error) {
	return s.txlog.ListForUser(ctx, userID, limit)
}

func (s *Service) applyLazyExpiry(ctx context.Context, r *model.Redemption, now time.Time) {
	if r.Status != model.RedemptionStatusActive || !r.Expired(now) {
		return
	}

	r.Status = model.RedemptionStatusExpired
	if err := s.store.UpdateRedemptionStatus(ctx, r.ID, model.RedemptionStatusExpired, nil); err != nil {
		s.logger.Warn("lazy expiry not persisted",
			zap.Error(err),
			zap.String("redemptionID", r.ID),
		)
	}
}
