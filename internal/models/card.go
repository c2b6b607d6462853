package models

import (
	"time"
)

// Card represents a prepaid transit card. Balance is held in minor units
// (cents) and is only ever changed through ledger operations.
type Card struct {
	ID        int       `json:"id" db:"id"`
	CardID    string    `json:"card_id" db:"card_id"`
	HolderID  int       `json:"holder_id" db:"holder_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Currency  string    `json:"currency" db:"currency"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Cardholder is the person a card is issued to.
type Cardholder struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Surname   string    `json:"surname" db:"surname"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CardStatus values
const (
	CardStatusActive  = "active"
	CardStatusBlocked = "blocked"
	CardStatusExpired = "expired"
)
