package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/transitpay/backend/internal/models"
)

// CardService handles card registration and lookups. Passwords, sessions
// and the web login flow live outside this service; registration only
// creates the cardholder and an active card with balance zero.
type CardService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

func NewCardService(db *sql.DB, redisClient *redis.Client) *CardService {
	return &CardService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// RegisterRequest creates a cardholder and issues a card.
type RegisterRequest struct {
	Name    string `json:"name" validate:"required,min=2"`
	Surname string `json:"surname" validate:"required,min=2"`
	Email   string `json:"email" validate:"required,email"`
}

// newCardID mints a card id in the issuer's CARD-<HEX8> format.
func newCardID() string {
	return "CARD-" + strings.ToUpper(uuid.New().String()[:8])
}

// Register creates a cardholder and card
// @Summary Register a card
// @Description Create a cardholder and issue an active card with balance zero
// @Tags cards
// @Accept json
// @Produce json
// @Param registration body RegisterRequest true "Cardholder details"
// @Success 201 {object} object{cardId=string,balance=int64}
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /cards/register [post]
func (cs *CardService) Register(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := cs.db.BeginTx(r.Context(), nil)
	if err != nil {
		SendErrorResponse(w, "Failed to register card", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var holderID int
	err = tx.QueryRow(`
		INSERT INTO cardholders (name, surname, email, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		req.Name, req.Surname, req.Email, time.Now()).Scan(&holderID)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to register card", http.StatusInternalServerError, nil)
		return
	}

	cardID := newCardID()
	viper.SetDefault("gateway.currency", "ZAR")
	currency := viper.GetString("gateway.currency")

	now := time.Now()
	if _, err := tx.Exec(`
		INSERT INTO cards (card_id, holder_id, balance, currency, status, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6)`,
		cardID, holderID, currency, models.CardStatusActive, now, now); err != nil {
		SendErrorResponse(w, "Failed to register card", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to register card", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CARD] Registered %s for %s %s", cardID, req.Name, req.Surname)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"cardId":  cardID,
		"balance": int64(0),
	})
}

// GetCard returns card details
// @Summary Get card
// @Description Retrieve a card with its holder and balance
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} models.Card
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId} [get]
func (cs *CardService) GetCard(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	var card models.Card
	err := cs.db.QueryRowContext(r.Context(), `
		SELECT id, card_id, holder_id, balance, currency, status, created_at, updated_at
		FROM cards WHERE card_id = $1`, cardID).Scan(
		&card.ID, &card.CardID, &card.HolderID, &card.Balance,
		&card.Currency, &card.Status, &card.CreatedAt, &card.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch card", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(card)
}

// GetBalance returns the card balance
// @Summary Balance enquiry
// @Description Read the card balance, served from cache when fresh
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} object{cardId=string,balance=int64,source=string}
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId}/balance [get]
func (cs *CardService) GetBalance(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	if cs.redis != nil {
		if cached, err := cs.redis.Get(r.Context(), "card_balance:"+cardID).Result(); err == nil {
			if balance, err := strconv.ParseInt(cached, 10, 64); err == nil {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{
					"cardId":  cardID,
					"balance": balance,
					"source":  "cache",
				})
				return
			}
		}
	}

	var balance int64
	err := cs.db.QueryRowContext(r.Context(), `
		SELECT balance FROM cards WHERE card_id = $1`, cardID).Scan(&balance)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"cardId":  cardID,
		"balance": balance,
		"source":  "db",
	})
}
