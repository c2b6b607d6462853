package models

import (
	"time"
)

// TripSession is an open trip: the rider has tapped in but not yet out.
// The trip_sessions table carries a UNIQUE constraint on card_id, so at
// most one session can exist per card at any time.
type TripSession struct {
	ID        int       `json:"id" db:"id"`
	CardID    string    `json:"card_id" db:"card_id"`
	StartTime time.Time `json:"start_time" db:"start_time"`
	StartLat  float64   `json:"start_lat" db:"start_lat"`
	StartLon  float64   `json:"start_lon" db:"start_lon"`
}

// TripRecord is the immutable record of a completed trip. Fare is in
// minor units. Rows are append-only.
type TripRecord struct {
	ID         int64     `json:"id" db:"id"`
	TripID     string    `json:"trip_id" db:"trip_id"`
	CardID     string    `json:"card_id" db:"card_id"`
	StartTime  time.Time `json:"start_time" db:"start_time"`
	EndTime    time.Time `json:"end_time" db:"end_time"`
	StartLat   float64   `json:"start_lat" db:"start_lat"`
	StartLon   float64   `json:"start_lon" db:"start_lon"`
	EndLat     float64   `json:"end_lat" db:"end_lat"`
	EndLon     float64   `json:"end_lon" db:"end_lon"`
	DistanceKm float64   `json:"distance_km" db:"distance_km"`
	Fare       int64     `json:"fare" db:"fare"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
