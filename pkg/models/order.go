package models

import "time"

// OrderSpec identifies a purchasable archive image: the catalog archive ID
// plus the area of interest as a WKT polygon.
type OrderSpec struct {
	ArchiveID string `json:"archive_id"`
	AOI       string `json:"aoi"`
}

// Quote is an immutable priced snapshot of an order spec. A stale quote is
// never re-priced; it must be re-prepared.
type Quote struct {
	Spec       OrderSpec `json:"spec"`
	Price      Cents     `json:"price"`
	Currency   string    `json:"currency"`
	IssuedAt   time.Time `json:"issued_at"`
	ValidUntil time.Time `json:"valid_until"`
}

// OrderRecord is a placed order as written to the history log.
type OrderRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ArchiveID string    `json:"archive_id"`
	AOI       string    `json:"aoi"`
	Cost      Cents     `json:"cost"`
	Currency  string    `json:"currency"`
	OrderRef  string    `json:"order_ref"`
	CreatedAt time.Time `json:"created_at"`
}
