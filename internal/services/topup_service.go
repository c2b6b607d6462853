package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
	"github.com/transitpay/backend/internal/gateway"
	"github.com/transitpay/backend/internal/models"
	"github.com/transitpay/backend/internal/observability"
)

// TopupService drives the wallet top-up flow: it initializes a checkout
// with the payment gateway and reconciles the gateway's confirmation into
// an exactly-once wallet credit. Reconcile is safe to call any number of
// times per reference (webhook redelivery, the rider refreshing the
// callback page): the ledger's idempotent credit guarantees a single
// topup entry.
type TopupService struct {
	db        *sql.DB
	wallet    *WalletService
	gateway   gateway.Client
	currency  string
	callback  string
	validator *ValidationHelper
}

func NewTopupService(db *sql.DB, wallet *WalletService, gw gateway.Client) *TopupService {
	viper.SetDefault("gateway.currency", "ZAR")

	return &TopupService{
		db:        db,
		wallet:    wallet,
		gateway:   gw,
		currency:  viper.GetString("gateway.currency"),
		callback:  viper.GetString("gateway.callback_url"),
		validator: NewValidationHelper(),
	}
}

// TopupRequest asks for a checkout of Amount minor units.
type TopupRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// Reconcile verifies reference with the gateway and credits the wallet
// exactly once. Outcomes:
//   - UpstreamError: gateway unreachable or bad response; nothing was
//     mutated, retry is safe.
//   - PaymentRejectedError: gateway answered but the transaction failed
//     validation; terminal, no credit.
//   - nil: wallet credited (or already credited for this reference).
func (ps *TopupService) Reconcile(ctx context.Context, reference string) (string, int64, error) {
	v, err := ps.gateway.Verify(ctx, reference)
	if err != nil {
		return "", 0, &UpstreamError{Op: "verify", Err: err}
	}

	log.Printf("[PAYSTACK] Verify %s: status=%s currency=%s amount=%d card=%s",
		reference, v.Status, v.Currency, v.Amount, v.CardID)

	if v.Status != "success" {
		return "", 0, &PaymentRejectedError{Reference: reference, Reason: "payment not successful"}
	}
	if v.Currency != ps.currency {
		return "", 0, &PaymentRejectedError{Reference: reference, Reason: "currency mismatch: got " + v.Currency}
	}
	if v.CardID == "" {
		return "", 0, &PaymentRejectedError{Reference: reference, Reason: "missing card_id in metadata"}
	}
	if v.Amount <= 0 {
		return "", 0, &PaymentRejectedError{Reference: reference, Reason: "non-positive amount"}
	}

	newBalance, err := ps.wallet.Credit(ctx, v.CardID, v.Amount, models.KindTopup, reference)
	if err != nil {
		return "", 0, err
	}

	observability.TopupsCreditedTotal.Inc()
	log.Printf("[PAYSTACK] Credited card %s with %d, balance %d (ref %s)", v.CardID, v.Amount, newBalance, reference)
	return v.CardID, newBalance, nil
}

// InitializeTopup starts a gateway checkout for a card
// @Summary Initialize top-up
// @Description Start a payment gateway checkout to load money onto a card
// @Tags topups
// @Accept json
// @Produce json
// @Param cardId path string true "Card ID"
// @Param topup body TopupRequest true "Top-up amount in cents"
// @Success 200 {object} object{authorizationUrl=string,reference=string}
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /cards/{cardId}/topup [post]
func (ps *TopupService) InitializeTopup(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TopupRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var email string
	err := ps.db.QueryRowContext(r.Context(), `
		SELECT h.email FROM cardholders h
		JOIN cards c ON c.holder_id = h.id
		WHERE c.card_id = $1`, cardID).Scan(&email)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to look up card", http.StatusInternalServerError, nil)
		return
	}

	data, err := ps.gateway.Initialize(r.Context(), gateway.InitializeRequest{
		Email:       email,
		Amount:      req.Amount,
		Currency:    ps.currency,
		CardID:      cardID,
		CallbackURL: ps.callback,
	})
	if err != nil {
		log.Printf("[PAYSTACK] Initialize failed for card %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to contact payment processor", http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"authorizationUrl": data.AuthorizationURL,
		"reference":        data.Reference,
	})
}

// PaymentCallback handles the gateway redirect after checkout
// @Summary Payment callback
// @Description Verify a completed checkout and credit the wallet exactly once
// @Tags topups
// @Produce json
// @Param reference query string true "Gateway transaction reference"
// @Success 200 {object} object{status=string,cardId=string,balance=int64}
// @Failure 400 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /payments/callback [get]
func (ps *TopupService) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		SendErrorResponse(w, "No payment reference provided", http.StatusBadRequest, nil)
		return
	}

	ps.reconcileAndRespond(w, r, reference)
}

// PaymentWebhook handles asynchronous gateway notifications
// @Summary Payment webhook
// @Description Reconcile a gateway event; redeliveries are idempotent
// @Tags topups
// @Accept json
// @Produce json
// @Success 200 {object} object{status=string,cardId=string,balance=int64}
// @Failure 400 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /payments/webhook [post]
func (ps *TopupService) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		SendErrorResponse(w, "Invalid webhook payload", http.StatusBadRequest, nil)
		return
	}
	if event.Data.Reference == "" {
		SendErrorResponse(w, "No payment reference in event", http.StatusBadRequest, nil)
		return
	}

	ps.reconcileAndRespond(w, r, event.Data.Reference)
}

func (ps *TopupService) reconcileAndRespond(w http.ResponseWriter, r *http.Request, reference string) {
	cardID, balance, err := ps.Reconcile(r.Context(), reference)
	if err != nil {
		var upstream *UpstreamError
		var rejected *PaymentRejectedError
		switch {
		case errors.As(err, &upstream):
			SendErrorResponse(w, "Could not verify payment", http.StatusBadGateway, nil)
		case errors.As(err, &rejected):
			SendErrorResponse(w, rejected.Reason, http.StatusBadRequest, nil)
		case errors.Is(err, ErrCardNotFound):
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		default:
			log.Printf("[PAYSTACK] Reconcile %s failed: %v", reference, err)
			SendErrorResponse(w, "Failed to credit wallet", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "credited",
		"cardId":  cardID,
		"balance": balance,
	})
}
