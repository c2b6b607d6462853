package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/transitpay/backend/internal/fare"
	"github.com/transitpay/backend/internal/models"
	"github.com/transitpay/backend/internal/observability"
)

// TripService owns the trip-session state machine. A card is either idle
// or in exactly one open trip: the UNIQUE constraint on
// trip_sessions.card_id enforces that at the storage layer, and every
// state change happens under the card's row lock so taps, debits and
// credits for one card are serialized.
type TripService struct {
	db        *sql.DB
	redis     *redis.Client
	wallet    *WalletService
	fares     *fare.Table
	validator *ValidationHelper
}

func NewTripService(db *sql.DB, redisClient *redis.Client, wallet *WalletService, fares *fare.Table) *TripService {
	return &TripService{
		db:        db,
		redis:     redisClient,
		wallet:    wallet,
		fares:     fares,
		validator: NewValidationHelper(),
	}
}

// TapRequest is a tap-in or tap-out event from a fare gate.
type TapRequest struct {
	CardID string  `json:"cardId" validate:"required"`
	Lat    float64 `json:"lat" validate:"latitude"`
	Lon    float64 `json:"lon" validate:"longitude"`
}

// TapInCard opens a trip session for the card. A second tap-in while a
// session is open is rejected with ErrTripAlreadyOpen rather than
// silently superseding the first.
func (ts *TripService) TapInCard(ctx context.Context, cardID string, loc fare.Point, at time.Time) error {
	if err := fare.ValidatePoint(loc); err != nil {
		return err
	}

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, status, err := ts.wallet.lockCard(tx, cardID)
	if err != nil {
		return err
	}
	if status != models.CardStatusActive {
		return ErrCardNotActive
	}

	_, err = tx.Exec(`
		INSERT INTO trip_sessions (card_id, start_time, start_lat, start_lon)
		VALUES ($1, $2, $3, $4)`,
		cardID, at, loc.Lat, loc.Lon)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTripAlreadyOpen
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	observability.TapInsTotal.Inc()
	log.Printf("[TRIP] Card %s tapped in at (%.4f, %.4f)", cardID, loc.Lat, loc.Lon)
	return nil
}

// TapOutCard closes the open session, prices the trip and debits the
// wallet, all in one transaction. If the debit fails the whole
// transaction rolls back, so the session survives and the rider can tap
// out again after topping up.
func (ts *TripService) TapOutCard(ctx context.Context, cardID string, loc fare.Point, at time.Time) (*models.TripRecord, int64, error) {
	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	// Card row lock first, session second: same order everywhere.
	if _, _, err := ts.wallet.lockCard(tx, cardID); err != nil {
		return nil, 0, err
	}

	var session models.TripSession
	err = tx.QueryRow(`
		SELECT id, card_id, start_time, start_lat, start_lon
		FROM trip_sessions
		WHERE card_id = $1
		FOR UPDATE`, cardID).Scan(
		&session.ID, &session.CardID, &session.StartTime, &session.StartLat, &session.StartLon)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNoOpenTrip
	}
	if err != nil {
		return nil, 0, err
	}

	distanceKm, err := fare.DistanceKm(fare.Point{Lat: session.StartLat, Lon: session.StartLon}, loc)
	if err != nil {
		return nil, 0, err
	}
	fareAmount := ts.fares.FareFor(distanceKm)

	if _, err := tx.Exec(`DELETE FROM trip_sessions WHERE id = $1`, session.ID); err != nil {
		return nil, 0, err
	}

	tripID := uuid.New().String()
	newBalance, err := ts.wallet.DebitTx(tx, tripID, cardID, fareAmount, models.KindFare)
	if err != nil {
		// Insufficient funds rolls everything back, including the
		// session delete: the rider stays in-trip.
		return nil, newBalance, err
	}

	record := &models.TripRecord{
		TripID:     tripID,
		CardID:     cardID,
		StartTime:  session.StartTime,
		EndTime:    at,
		StartLat:   session.StartLat,
		StartLon:   session.StartLon,
		EndLat:     loc.Lat,
		EndLon:     loc.Lon,
		DistanceKm: distanceKm,
		Fare:       fareAmount,
		CreatedAt:  time.Now(),
	}
	if _, err := tx.Exec(`
		INSERT INTO trip_records (trip_id, card_id, start_time, end_time, start_lat, start_lon, end_lat, end_lon, distance_km, fare, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.TripID, record.CardID, record.StartTime, record.EndTime,
		record.StartLat, record.StartLon, record.EndLat, record.EndLon,
		record.DistanceKm, record.Fare, record.CreatedAt); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	observability.TripsCompletedTotal.Inc()
	observability.FareChargedCents.Observe(float64(fareAmount))
	ts.wallet.cacheBalance(ctx, cardID, newBalance)
	ts.queueForSettlement(record)
	log.Printf("[TRIP] Card %s tapped out: %.2f km, fare %d, balance %d", cardID, distanceKm, fareAmount, newBalance)
	return record, newBalance, nil
}

// Trips returns a card's completed trips, newest first.
func (ts *TripService) Trips(ctx context.Context, cardID string, limit int) ([]models.TripRecord, error) {
	rows, err := ts.db.QueryContext(ctx, `
		SELECT id, trip_id, card_id, start_time, end_time, start_lat, start_lon, end_lat, end_lon, distance_km, fare, created_at
		FROM trip_records
		WHERE card_id = $1
		ORDER BY start_time DESC
		LIMIT $2`, cardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trips := []models.TripRecord{}
	for rows.Next() {
		var tr models.TripRecord
		if err := rows.Scan(&tr.ID, &tr.TripID, &tr.CardID, &tr.StartTime, &tr.EndTime,
			&tr.StartLat, &tr.StartLon, &tr.EndLat, &tr.EndLon,
			&tr.DistanceKm, &tr.Fare, &tr.CreatedAt); err != nil {
			return nil, err
		}
		trips = append(trips, tr)
	}
	return trips, rows.Err()
}

// queueForSettlement pushes the fare transaction onto the redis settlement
// queue. Settlement export drains it asynchronously; a missing queue only
// delays settlement and never blocks the trip.
func (ts *TripService) queueForSettlement(record *models.TripRecord) {
	if ts.redis == nil {
		return
	}
	rec := SettlementRecord{
		TransactionID: record.TripID,
		CardID:        record.CardID,
		Amount:        record.Fare,
		Currency:      "ZAR",
		CreatedAt:     record.CreatedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[TRIP] Failed to marshal settlement record: %v", err)
		return
	}
	if err := ts.redis.RPush(context.Background(), settlementQueueKey, data).Err(); err != nil {
		log.Printf("[TRIP] Failed to queue trip %s for settlement: %v", record.TripID, err)
	}
}

func (ts *TripService) decodeTap(w http.ResponseWriter, r *http.Request) (*TapRequest, bool) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TapRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}
	return &req, true
}

// TapIn handles a tap-in event
// @Summary Tap in
// @Description Open a trip session for a card at the given location
// @Tags taps
// @Accept json
// @Produce json
// @Param tap body TapRequest true "Tap event"
// @Success 201 {object} object{status=string,cardId=string}
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /taps/in [post]
func (ts *TripService) TapIn(w http.ResponseWriter, r *http.Request) {
	req, ok := ts.decodeTap(w, r)
	if !ok {
		return
	}

	err := ts.TapInCard(r.Context(), req.CardID, fare.Point{Lat: req.Lat, Lon: req.Lon}, time.Now())
	if err != nil {
		ts.writeTapError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "tapped_in",
		"cardId": req.CardID,
	})
}

// TapOut handles a tap-out event
// @Summary Tap out
// @Description Close the open trip session, charge the fare and return the new balance
// @Tags taps
// @Accept json
// @Produce json
// @Param tap body TapRequest true "Tap event"
// @Success 200 {object} object{status=string,fare=int64,distanceKm=float64,balance=int64}
// @Failure 400 {object} map[string]string
// @Failure 402 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /taps/out [post]
func (ts *TripService) TapOut(w http.ResponseWriter, r *http.Request) {
	req, ok := ts.decodeTap(w, r)
	if !ok {
		return
	}

	record, balance, err := ts.TapOutCard(r.Context(), req.CardID, fare.Point{Lat: req.Lat, Lon: req.Lon}, time.Now())
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "Insufficient balance, trip remains open",
				"balance": balance,
			})
			return
		}
		ts.writeTapError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "tapped_out",
		"fare":       record.Fare,
		"distanceKm": record.DistanceKm,
		"balance":    balance,
		"trip":       record,
	})
}

// ListTrips returns a card's trip history
// @Summary List trips
// @Description Get a card's completed trips, newest first
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} object{trips=[]models.TripRecord,count=int}
// @Failure 500 {object} map[string]string
// @Router /cards/{cardId}/trips [get]
func (ts *TripService) ListTrips(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	trips, err := ts.Trips(r.Context(), cardID, 50)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch trips", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"trips": trips,
		"count": len(trips),
	})
}

func (ts *TripService) writeTapError(w http.ResponseWriter, err error) {
	var coordErr *fare.ErrInvalidCoordinate
	switch {
	case errors.Is(err, ErrCardNotFound):
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrCardNotActive):
		SendErrorResponse(w, "Card not active", http.StatusForbidden, nil)
	case errors.Is(err, ErrTripAlreadyOpen):
		SendErrorResponse(w, "Trip already open for card", http.StatusConflict, nil)
	case errors.Is(err, ErrNoOpenTrip):
		SendErrorResponse(w, "No open trip for card", http.StatusNotFound, nil)
	case errors.As(err, &coordErr):
		SendErrorResponse(w, "Invalid coordinates", http.StatusBadRequest, nil)
	default:
		log.Printf("[TRIP] Unexpected error: %v", err)
		SendErrorResponse(w, "Failed to process tap", http.StatusInternalServerError, nil)
	}
}
