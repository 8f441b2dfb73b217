package domain

import (
	"time"

	"github.com/opensource-finance/proptax/internal/tax"
)

// Scenario is a named set of adjusted ratios for one variant.
type Scenario struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Variant     string     `json:"variant"`
	Ratios      tax.Ratios `json:"ratios"`
	CreatedAt   time.Time  `json:"createdAt"`
}
