package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Read-mostly reference data. The commerce core only reads identity from
// these entities; writes happen through the back office, out of scope here.

type Herb struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Partner struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Country   string           `json:"country"`
	Verified  bool             `json:"verified"`
	Rating    *decimal.Decimal `json:"rating,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// InventoryBase is a partner's physical stock location. Base names are
// unique per partner.
type InventoryBase struct {
	ID            string    `json:"id"`
	PartnerID     string    `json:"partner_id"`
	Name          string    `json:"name"`
	Country       string    `json:"country"`
	Region        string    `json:"region,omitempty"`
	Address       string    `json:"address,omitempty"`
	ContactPerson string    `json:"contact_person,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Currency struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// ExchangeRate converts one unit of the base currency into the target
// currency. Rates are static reference data, not computed here.
type ExchangeRate struct {
	BaseCode   string          `json:"base_code"`
	TargetCode string          `json:"target_code"`
	Rate       decimal.Decimal `json:"rate"`
}
