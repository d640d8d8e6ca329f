// Package model содержит доменные сущности сервиса вознаграждений.
package model

import "time"

// DiscountType описывает вид скидки, которую даёт ваучер.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
	DiscountFree       DiscountType = "free"
)

// Voucher описывает вознаграждение из каталога: стоимость в баллах и остаток.
// StockLimit и CurrentStock либо оба заданы (отслеживаемый остаток),
// либо оба nil (безлимитный ваучер).
type Voucher struct {
	ID                 string
	Category           string
	Brand              string
	Title              string
	Description        string
	PointsRequired     int64
	OriginalValueCents int64
	DiscountType       DiscountType
	DiscountValue      int64
	ValidityDays       int
	IsActive           bool
	StockLimit         *int64
	CurrentStock       *int64
	UpdatedAt          time.Time
}

// StockTracked сообщает, отслеживается ли остаток ваучера.
func (v *Voucher) StockTracked() bool {
	return v.StockLimit != nil
}

// RedemptionStatus описывает состояние обмена баллов на ваучер.
type RedemptionStatus string

const (
	RedemptionStatusActive  RedemptionStatus = "active"
	RedemptionStatusUsed    RedemptionStatus = "used"
	RedemptionStatusExpired RedemptionStatus = "expired"
)

// Redemption описывает факт обмена баллов пользователя на ваучер.
// PointsUsed — снимок стоимости на момент обмена, не меняется при
// последующем изменении каталога.
type Redemption struct {
	ID          string
	UserID      string
	VoucherID   string
	VoucherCode string
	PointsUsed  int64
	Status      RedemptionStatus
	RedeemedAt  time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time

	// Voucher — снимок ваучера для отображения. Заполняется сервисом,
	// вместе с записью не хранится.
	Voucher *Voucher
}

// Expired сообщает, истёк ли срок действия обмена к моменту now.
func (r *Redemption) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// TransactionType описывает тип движения баллов.
type TransactionType string

const (
	TransactionEarned   TransactionType = "earned"
	TransactionRedeemed TransactionType = "redeemed"
	TransactionBonus    TransactionType = "bonus"
)

// TransactionEntry описывает одну запись журнала движения баллов.
// Points знаковое: earned и bonus положительные, redeemed отрицательное.
type TransactionEntry struct {
	ID          string
	UserID      string
	Type        TransactionType
	Points      int64
	Description string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Balance содержит текущий баланс баллов пользователя.
type Balance struct {
	Current int64 `json:"current"`
}
