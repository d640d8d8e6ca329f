// Package catalog реализует каталог ваучеров поверх контракта хранилища.
package catalog

import (
	"context"

	"github.com/ecosort/rewards-system/internal/model"
	"github.com/ecosort/rewards-system/internal/storage"
)

// Catalog предоставляет доступ к определениям ваучеров и их остаткам.
// Состав каталога ведёт внешняя админка, здесь остаток меняется только
// через DecrementStock/IncrementStock.
type Catalog struct {
	store storage.Storage
}

// New создаёт каталог поверх указанного хранилища.
func New(store storage.Storage) *Catalog {
	return &Catalog{store: store}
}

// ListActive возвращает активные ваучеры по возрастанию стоимости в баллах.
func (c *Catalog) ListActive(ctx context.Context) ([]model.Voucher, error) {
	return c.store.ListActiveVouchers(ctx)
}

// GetByID возвращает ваучер или storage.ErrVoucherNotFound.
func (c *Catalog) GetByID(ctx context.Context, id string) (*model.Voucher, error) {
	return c.store.GetVoucher(ctx, id)
}

// DecrementStock атомарно списывает единицу остатка. Для безлимитного
// ваучера — успешный no-op, при нулевом остатке — storage.ErrVoucherOutOfStock.
func (c *Catalog) DecrementStock(ctx context.Context, id string) error {
	return c.store.DecrementVoucherStock(ctx, id)
}

// IncrementStock возвращает списанную единицу остатка при компенсации обмена.
func (c *Catalog) IncrementStock(ctx context.Context, id string) error {
	return c.store.IncrementVoucherStock(ctx, id)
}

// FilterAffordable возвращает активные ваучеры, доступные пользователю
// с указанным балансом: стоимость не выше баланса и остаток не исчерпан.
func (c *Catalog) FilterAffordable(ctx context.Context, userPoints int64) ([]model.Voucher, error) {
	vouchers, err := c.store.ListActiveVouchers(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]model.Voucher, 0, len(vouchers))
	for _, v := range vouchers {
		if v.PointsRequired > userPoints {
			continue
		}
		if v.StockTracked() && *v.CurrentStock <= 0 {
			continue
		}
		res = append(res, v)
	}

	return res, nil
}
