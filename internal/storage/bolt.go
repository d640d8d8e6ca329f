package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/ecosort/rewards-system/internal/model"
)

// Имена bucket'ов локального хранилища.
var (
	bucketVouchers     = []byte("vouchers")
	bucketPoints       = []byte("user_points")
	bucketRedemptions  = []byte("redemptions")
	bucketCodes        = []byte("redemption_codes")
	bucketTransactions = []byte("transactions")
)

// BoltStorage — локальный резервный вариант хранилища в одном файле BoltDB.
// Используется, когда основное хранилище не сконфигурировано. Данные
// переживают перезапуск, но не разделяются между устройствами — для
// продакшена хранилище не предназначено.
//
// Все мутации выполняются внутри db.Update: BoltDB допускает одну
// пишущую транзакцию одновременно, поэтому списание баллов и остатка
// здесь атомарно без дополнительных блокировок.
type BoltStorage struct {
	db *bolt.DB
}

var _ Storage = (*BoltStorage)(nil)

// NewBoltStorage открывает (или создаёт) файл BoltDB и инициализирует bucket'ы.
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketVouchers, bucketPoints, bucketRedemptions, bucketCodes, bucketTransactions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

// Close освобождает файл БД.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// SaveVoucher создаёт или обновляет ваучер каталога.
func (s *BoltStorage) SaveVoucher(ctx context.Context, v *model.Voucher) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal voucher: %w", err)
		}
		return tx.Bucket(bucketVouchers).Put([]byte(v.ID), data)
	})
}

// GetVoucher возвращает ваучер по идентификатору.
func (s *BoltStorage) GetVoucher(ctx context.Context, id string) (*model.Voucher, error) {
	var v model.Voucher
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVouchers).Get([]byte(id))
		if data == nil {
			return ErrVoucherNotFound
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListActiveVouchers возвращает активные ваучеры по возрастанию стоимости в баллах.
func (s *BoltStorage) ListActiveVouchers(ctx context.Context) ([]model.Voucher, error) {
	var res []model.Voucher
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVouchers).ForEach(func(k, data []byte) error {
			var v model.Voucher
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("unmarshal voucher: %w", err)
			}
			if v.IsActive {
				res = append(res, v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].PointsRequired < res[j].PointsRequired
	})

	return res, nil
}

// DecrementVoucherStock атомарно уменьшает остаток ваучера на 1.
func (s *BoltStorage) DecrementVoucherStock(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVouchers)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrVoucherNotFound
		}

		var v model.Voucher
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("unmarshal voucher: %w", err)
		}

		if !v.StockTracked() {
			return nil
		}
		if *v.CurrentStock <= 0 {
			return ErrVoucherOutOfStock
		}

		next := *v.CurrentStock - 1
		v.CurrentStock = &next
		v.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("marshal voucher: %w", err)
		}
		return b.Put([]byte(id), updated)
	})
}

// IncrementVoucherStock возвращает единицу остатка, списанную ранее.
func (s *BoltStorage) IncrementVoucherStock(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVouchers)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrVoucherNotFound
		}

		var v model.Voucher
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("unmarshal voucher: %w", err)
		}

		if !v.StockTracked() {
			return nil
		}

		next := *v.CurrentStock + 1
		if next > *v.StockLimit {
			next = *v.StockLimit
		}
		v.CurrentStock = &next
		v.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("marshal voucher: %w", err)
		}
		return b.Put([]byte(id), updated)
	})
}

// GetPoints возвращает баланс баллов пользователя. Несуществующий счёт читается как ноль.
func (s *BoltStorage) GetPoints(ctx context.Context, userID string) (int64, error) {
	var points int64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPoints).Get([]byte(userID))
		if data == nil {
			return nil
		}
		v, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("parse points: %w", err)
		}
		points = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	return points, nil
}

// DebitPoints списывает баллы со счёта пользователя.
func (s *BoltStorage) DebitPoints(ctx context.Context, userID string, amount int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPoints)

		var available int64
		if data := b.Get([]byte(userID)); data != nil {
			v, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				return fmt.Errorf("parse points: %w", err)
			}
			available = v
		}

		if available < amount {
			return &InsufficientPointsError{Required: amount, Available: available}
		}

		return b.Put([]byte(userID), []byte(strconv.FormatInt(available-amount, 10)))
	})
}

// CreditPoints начисляет баллы, создавая счёт при первом начислении.
func (s *BoltStorage) CreditPoints(ctx context.Context, userID string, amount int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPoints)

		var current int64
		if data := b.Get([]byte(userID)); data != nil {
			v, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				return fmt.Errorf("parse points: %w", err)
			}
			current = v
		}

		return b.Put([]byte(userID), []byte(strconv.FormatInt(current+amount, 10)))
	})
}

// CreateRedemption сохраняет запись об обмене. Уникальность кода
// обеспечивает отдельный bucket code → redemption id.
func (s *BoltStorage) CreateRedemption(ctx context.Context, r *model.Redemption) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		codes := tx.Bucket(bucketCodes)
		if codes.Get([]byte(r.VoucherCode)) != nil {
			return fmt.Errorf("%w: %s", ErrCodeConflict, r.VoucherCode)
		}

		stored := *r
		stored.Voucher = nil
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshal redemption: %w", err)
		}

		if err := tx.Bucket(bucketRedemptions).Put([]byte(r.ID), data); err != nil {
			return err
		}
		return codes.Put([]byte(r.VoucherCode), []byte(r.ID))
	})
}

// GetRedemption возвращает запись об обмене по идентификатору.
func (s *BoltStorage) GetRedemption(ctx context.Context, id string) (*model.Redemption, error) {
	var r model.Redemption
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRedemptions).Get([]byte(id))
		if data == nil {
			return ErrRedemptionNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRedemptionsByUser возвращает обмены пользователя, свежие первыми.
func (s *BoltStorage) ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error) {
	var res []model.Redemption
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRedemptions).ForEach(func(k, data []byte) error {
			var r model.Redemption
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("unmarshal redemption: %w", err)
			}
			if r.UserID == userID {
				res = append(res, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].RedeemedAt.After(res[j].RedeemedAt)
	})

	return res, nil
}

// UpdateRedemptionStatus переводит обмен в указанный статус.
func (s *BoltStorage) UpdateRedemptionStatus(ctx context.Context, id string, status model.RedemptionStatus, usedAt *time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRedemptions)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrRedemptionNotFound
		}

		var r model.Redemption
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("unmarshal redemption: %w", err)
		}

		r.Status = status
		r.UsedAt = usedAt

		updated, err := json.Marshal(&r)
		if err != nil {
			return fmt.Errorf("marshal redemption: %w", err)
		}
		return b.Put([]byte(id), updated)
	})
}

// AppendTransaction сохраняет запись журнала движения баллов.
func (s *BoltStorage) AppendTransaction(ctx context.Context, e *model.TransactionEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal transaction: %w", err)
		}
		return tx.Bucket(bucketTransactions).Put([]byte(e.ID), data)
	})
}

// ListTransactionsByUser возвращает записи журнала пользователя, свежие первыми.
func (s *BoltStorage) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.TransactionEntry, error) {
	var res []model.TransactionEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).ForEach(func(k, data []byte) error {
			var e model.TransactionEntry
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("unmarshal transaction: %w", err)
			}
			if e.UserID == userID {
				res = append(res, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res, nil
}
