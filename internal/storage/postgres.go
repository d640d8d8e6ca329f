package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ecosort/rewards-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStorage предоставляет доступ к основному хранилищу в PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

var _ Storage = (*PostgresStorage)(nil)

// NewPostgresStorage создаёт хранилище и инициализирует схему БД через миграции.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStorage{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStorage) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи нужны для Serialization Failure и Deadlock, переподключение pgxpool делает сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// SaveVoucher создаёт или обновляет ваучер каталога.
func (s *PostgresStorage) SaveVoucher(ctx context.Context, v *model.Voucher) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vouchers (id, category, brand, title, description, points_required,
		                       original_value, discount_type, discount_value, validity_days,
		                       is_active, stock_limit, current_stock, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		 ON CONFLICT (id) DO UPDATE SET
		     category = EXCLUDED.category,
		     brand = EXCLUDED.brand,
		     title = EXCLUDED.title,
		     description = EXCLUDED.description,
		     points_required = EXCLUDED.points_required,
		     original_value = EXCLUDED.original_value,
		     discount_type = EXCLUDED.discount_type,
		     discount_value = EXCLUDED.discount_value,
		     validity_days = EXCLUDED.validity_days,
		     is_active = EXCLUDED.is_active,
		     stock_limit = EXCLUDED.stock_limit,
		     current_stock = EXCLUDED.current_stock,
		     updated_at = now()`,
		v.ID, v.Category, v.Brand, v.Title, v.Description, v.PointsRequired,
		v.OriginalValueCents, string(v.DiscountType), v.DiscountValue, v.ValidityDays,
		v.IsActive, v.StockLimit, v.CurrentStock,
	)
	if err != nil {
		return fmt.Errorf("save voucher: %w", err)
	}
	return nil
}

const voucherColumns = `id, category, brand, title, description, points_required,
	 original_value, discount_type, discount_value, validity_days,
	 is_active, stock_limit, current_stock, updated_at`

func scanVoucher(row pgx.Row) (*model.Voucher, error) {
	var v model.Voucher
	var discountType string
	err := row.Scan(&v.ID, &v.Category, &v.Brand, &v.Title, &v.Description, &v.PointsRequired,
		&v.OriginalValueCents, &discountType, &v.DiscountValue, &v.ValidityDays,
		&v.IsActive, &v.StockLimit, &v.CurrentStock, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.DiscountType = model.DiscountType(discountType)
	return &v, nil
}

// GetVoucher возвращает ваучер по идентификатору.
func (s *PostgresStorage) GetVoucher(ctx context.Context, id string) (*model.Voucher, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`,
		id,
	)

	v, err := scanVoucher(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}

	return v, nil
}

// ListActiveVouchers возвращает активные ваучеры по возрастанию стоимости в баллах.
func (s *PostgresStorage) ListActiveVouchers(ctx context.Context) ([]model.Voucher, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+voucherColumns+`
		 FROM vouchers
		 WHERE is_active
		 ORDER BY points_required`,
	)
	if err != nil {
		return nil, fmt.Errorf("select vouchers: %w", err)
	}
	defer rows.Close()

	var res []model.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DecrementVoucherStock атомарно уменьшает остаток ваучера на 1.
// Условие current_stock > 0 в UPDATE гарантирует, что при конкурентных
// обменах последней единицы остаток не уйдёт в минус.
func (s *PostgresStorage) DecrementVoucherStock(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE vouchers
			 SET current_stock = current_stock - 1, updated_at = now()
			 WHERE id = $1 AND current_stock > 0`,
			id,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var stockLimit *int64
		err = s.pool.QueryRow(ctx, `SELECT stock_limit FROM vouchers WHERE id = $1`, id).Scan(&stockLimit)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrVoucherNotFound
			}
			return fmt.Errorf("check stock: %w", err)
		}

		// Остаток не отслеживается — списывать нечего.
		if stockLimit == nil {
			return nil
		}

		return ErrVoucherOutOfStock
	})
}

// IncrementVoucherStock возвращает единицу остатка, списанную ранее.
// Используется компенсацией незавершённого обмена.
func (s *PostgresStorage) IncrementVoucherStock(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`UPDATE vouchers
			 SET current_stock = LEAST(current_stock + 1, stock_limit), updated_at = now()
			 WHERE id = $1 AND stock_limit IS NOT NULL`,
			id,
		)
		if err != nil {
			return fmt.Errorf("increment stock: %w", err)
		}
		return nil
	})
}

// GetPoints возвращает баланс баллов пользователя. Несуществующий счёт читается как ноль.
func (s *PostgresStorage) GetPoints(ctx context.Context, userID string) (int64, error) {
	var points int64
	err := s.pool.QueryRow(ctx,
		`SELECT points FROM user_points WHERE user_id = $1`,
		userID,
	).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get points: %w", err)
	}
	return points, nil
}

// DebitPoints списывает баллы со счёта пользователя. Строка счёта блокируется
// FOR UPDATE, чтобы конкурентные списания одного пользователя выполнялись
// последовательно и не могли увести баланс в минус.
func (s *PostgresStorage) DebitPoints(ctx context.Context, userID string, amount int64) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var available int64
		err = tx.QueryRow(ctx,
			`SELECT points FROM user_points WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&available)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &InsufficientPointsError{Required: amount, Available: 0}
			}
			return fmt.Errorf("lock points row: %w", err)
		}

		if available < amount {
			return &InsufficientPointsError{Required: amount, Available: available}
		}

		_, err = tx.Exec(ctx,
			`UPDATE user_points SET points = points - $2, updated_at = now() WHERE user_id = $1`,
			userID, amount,
		)
		if err != nil {
			return fmt.Errorf("debit points: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// CreditPoints начисляет баллы, создавая счёт при первом начислении.
func (s *PostgresStorage) CreditPoints(ctx context.Context, userID string, amount int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO user_points (user_id, points) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE
			 SET points = user_points.points + EXCLUDED.points, updated_at = now()`,
			userID, amount,
		)
		if err != nil {
			return fmt.Errorf("credit points: %w", err)
		}
		return nil
	})
}

// CreateRedemption сохраняет запись об обмене. Коллизия voucher_code
// возвращается как ErrCodeConflict, вызывающий генерирует новый код.
func (s *PostgresStorage) CreateRedemption(ctx context.Context, r *model.Redemption) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO voucher_redemptions
		     (id, user_id, voucher_id, voucher_code, points_used, status, redeemed_at, expires_at, used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, r.VoucherID, r.VoucherCode, r.PointsUsed, string(r.Status),
		r.RedeemedAt, r.ExpiresAt, r.UsedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrCodeConflict, r.VoucherCode)
		}
		return fmt.Errorf("create redemption: %w", err)
	}
	return nil
}

const redemptionColumns = `id, user_id, voucher_id, voucher_code, points_used, status, redeemed_at, expires_at, used_at`

func scanRedemption(row pgx.Row) (*model.Redemption, error) {
	var r model.Redemption
	var status string
	err := row.Scan(&r.ID, &r.UserID, &r.VoucherID, &r.VoucherCode, &r.PointsUsed,
		&status, &r.RedeemedAt, &r.ExpiresAt, &r.UsedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RedemptionStatus(status)
	return &r, nil
}

// GetRedemption возвращает запись об обмене по идентификатору.
func (s *PostgresStorage) GetRedemption(ctx context.Context, id string) (*model.Redemption, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+redemptionColumns+` FROM voucher_redemptions WHERE id = $1`,
		id,
	)

	r, err := scanRedemption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}

	return r, nil
}

// ListRedemptionsByUser возвращает обмены пользователя, свежие первыми.
func (s *PostgresStorage) ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+redemptionColumns+`
		 FROM voucher_redemptions
		 WHERE user_id = $1
		 ORDER BY redeemed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		res = append(res, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateRedemptionStatus переводит обмен в указанный статус.
func (s *PostgresStorage) UpdateRedemptionStatus(ctx context.Context, id string, status model.RedemptionStatus, usedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE voucher_redemptions SET status = $2, used_at = $3 WHERE id = $1`,
		id, string(status), usedAt,
	)
	if err != nil {
		return fmt.Errorf("update redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRedemptionNotFound
	}
	return nil
}

// AppendTransaction сохраняет запись журнала движения баллов.
func (s *PostgresStorage) AppendTransaction(ctx context.Context, e *model.TransactionEntry) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_transactions (id, user_id, type, points, description, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, string(e.Type), e.Points, e.Description, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// ListTransactionsByUser возвращает записи журнала пользователя, свежие
// первыми. limit <= 0 означает «без ограничения».
func (s *PostgresStorage) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.TransactionEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, points, description, metadata, created_at
		 FROM user_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT NULLIF($2, 0)`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.TransactionEntry
	for rows.Next() {
		var e model.TransactionEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Points, &e.Description, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		e.Type = model.TransactionType(typ)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
