// Package handler содержит HTTP-обработчики API сервиса вознаграждений.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ecosort/rewards-system/internal/ledger"
	"github.com/ecosort/rewards-system/internal/middleware"
	"github.com/ecosort/rewards-system/internal/model"
	"github.com/ecosort/rewards-system/internal/service"
	"github.com/ecosort/rewards-system/internal/storage"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListVouchers(ctx context.Context) ([]model.Voucher, error)
	GetVoucher(ctx context.Context, id string) (*model.Voucher, error)
	ListAffordableVouchers(ctx context.Context, userID string) ([]model.Voucher, error)
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)
	EarnPoints(ctx context.Context, userID string, amount int64, entryType model.TransactionType, description string, metadata map[string]string) (*model.TransactionEntry, error)
	Redeem(ctx context.Context, userID, voucherID string) (*model.Redemption, error)
	ListRedemptions(ctx context.Context, userID string) ([]model.Redemption, error)
	MarkRedemptionUsed(ctx context.Context, userID, redemptionID string) (*model.Redemption, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.TransactionEntry, error)
}

// Handler реализует HTTP-обработчики API сервиса вознаграждений.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type voucherResponse struct {
	ID             string   `json:"id"`
	Category       string   `json:"category"`
	Brand          string   `json:"brand"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	PointsRequired int64    `json:"points_required"`
	OriginalValue  float64  `json:"original_value"`
	DiscountType   string   `json:"discount_type"`
	DiscountValue  int64    `json:"discount_value"`
	ValidityDays   int      `json:"validity_days"`
	CurrentStock   *int64   `json:"current_stock,omitempty"`
}

func toVoucherResponse(v *model.Voucher) voucherResponse {
	return voucherResponse{
		ID:             v.ID,
		Category:       v.Category,
		Brand:          v.Brand,
		Title:          v.Title,
		Description:    v.Description,
		PointsRequired: v.PointsRequired,
		OriginalValue:  float64(v.OriginalValueCents) / 100,
		DiscountType:   string(v.DiscountType),
		DiscountValue:  v.DiscountValue,
		ValidityDays:   v.ValidityDays,
		CurrentStock:   v.CurrentStock,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// ListVouchers возвращает активные ваучеры каталога.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.service.ListVouchers(r.Context())
	if err != nil {
		h.logger.Error("list vouchers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]voucherResponse, 0, len(vouchers))
	for i := range vouchers {
		resp = append(resp, toVoucherResponse(&vouchers[i]))
	}

	h.writeJSON(w, resp)
}

// GetVoucher возвращает один ваучер каталога.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	v, err := h.service.GetVoucher(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrVoucherNotFound) {
			http.Error(w, "voucher not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get voucher error", zap.Error(err), zap.String("voucherID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toVoucherResponse(v))
}

// ListAffordableVouchers возвращает ваучеры, доступные текущему пользователю.
func (h *Handler) ListAffordableVouchers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	vouchers, err := h.service.ListAffordableVouchers(r.Context(), userID)
	if err != nil {
		h.logger.Error("list affordable vouchers error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]voucherResponse, 0, len(vouchers))
	for i := range vouchers {
		resp = append(resp, toVoucherResponse(&vouchers[i]))
	}

	h.writeJSON(w, resp)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, balance)
}

type earnRequest struct {
	Amount      int64             `json:"amount"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type transactionResponse struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Points      int64             `json:"points"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

func toTransactionResponse(e *model.TransactionEntry) transactionResponse {
	return transactionResponse{
		ID:          e.ID,
		Type:        string(e.Type),
		Points:      e.Points,
		Description: e.Description,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

// EarnPoints начисляет баллы текущему пользователю за сданное вторсырьё.
func (h *Handler) EarnPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req earnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entryType := model.TransactionType(req.Type)
	if req.Type == "" {
		entryType = model.TransactionEarned
	}
	if entryType != model.TransactionEarned && entryType != model.TransactionBonus {
		http.Error(w, "type must be earned or bonus", http.StatusUnprocessableEntity)
		return
	}

	entry, err := h.service.EarnPoints(r.Context(), userID, req.Amount, entryType, req.Description, req.Metadata)
	if err != nil {
		if errors.Is(err, ledger.ErrNonPositiveAmount) {
			http.Error(w, "amount must be positive", http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("earn points error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toTransactionResponse(entry))
}

type redemptionResponse struct {
	ID          string           `json:"id"`
	VoucherID   string           `json:"voucher_id"`
	VoucherCode string           `json:"voucher_code"`
	PointsUsed  int64            `json:"points_used"`
	Status      string           `json:"status"`
	RedeemedAt  string           `json:"redeemed_at"`
	ExpiresAt   string           `json:"expires_at"`
	UsedAt      *string          `json:"used_at,omitempty"`
	Voucher     *voucherResponse `json:"voucher,omitempty"`
}

func toRedemptionResponse(r *model.Redemption) redemptionResponse {
	resp := redemptionResponse{
		ID:          r.ID,
		VoucherID:   r.VoucherID,
		VoucherCode: r.VoucherCode,
		PointsUsed:  r.PointsUsed,
		Status:      string(r.Status),
		RedeemedAt:  r.RedeemedAt.Format(time.RFC3339),
		ExpiresAt:   r.ExpiresAt.Format(time.RFC3339),
	}
	if r.UsedAt != nil {
		usedAt := r.UsedAt.Format(time.RFC3339)
		resp.UsedAt = &usedAt
	}
	if r.Voucher != nil {
		v := toVoucherResponse(r.Voucher)
		resp.Voucher = &v
	}
	return resp
}

// Redeem обменивает баллы текущего пользователя на ваучер.
// Каждая ошибка закрытого набора отображается в свой статус, чтобы UI
// показывал осмысленные сообщения вместо сырых ошибок хранилища.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	voucherID := pathParam(r, "id")

	redemption, err := h.service.Redeem(r.Context(), userID, voucherID)
	if err != nil {
		var insufficientErr *storage.InsufficientPointsError
		switch {
		case errors.Is(err, storage.ErrVoucherNotFound):
			http.Error(w, "voucher not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrVoucherOutOfStock):
			http.Error(w, "voucher sold out", http.StatusConflict)
		case errors.As(err, &insufficientErr):
			http.Error(w, insufficientErr.Error(), http.StatusPaymentRequired)
		case errors.Is(err, storage.ErrStorageUnavailable):
			h.logger.Error("redeem storage error", zap.Error(err), zap.String("userID", userID), zap.String("voucherID", voucherID))
			http.Error(w, "temporary failure, try again", http.StatusServiceUnavailable)
		default:
			h.logger.Error("redeem error", zap.Error(err), zap.String("userID", userID), zap.String("voucherID", voucherID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toRedemptionResponse(redemption)); err != nil {
		h.logger.Error("encode redemption error", zap.Error(err))
	}
}

// ListRedemptions возвращает обмены текущего пользователя.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	redemptions, err := h.service.ListRedemptions(r.Context(), userID)
	if err != nil {
		h.logger.Error("list redemptions error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(redemptions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]redemptionResponse, 0, len(redemptions))
	for i := range redemptions {
		resp = append(resp, toRedemptionResponse(&redemptions[i]))
	}

	h.writeJSON(w, resp)
}

// UseRedemption переводит обмен текущего пользователя в статус used.
func (h *Handler) UseRedemption(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	redemptionID := pathParam(r, "id")

	redemption, err := h.service.MarkRedemptionUsed(r.Context(), userID, redemptionID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRedemptionNotFound):
			http.Error(w, "redemption not found", http.StatusNotFound)
		case errors.Is(err, service.ErrRedemptionFinished):
			http.Error(w, "redemption already used or expired", http.StatusConflict)
		default:
			h.logger.Error("use redemption error", zap.Error(err), zap.String("userID", userID), zap.String("redemptionID", redemptionID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, toRedemptionResponse(redemption))
}

// ListTransactions возвращает историю движения баллов текущего пользователя.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list transactions error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, toTransactionResponse(&entries[i]))
	}

	h.writeJSON(w, resp)
}
