package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PackageTemplate is a carrier package definition mirrored into the local
// catalog by the sync jobs. Read-only here.
type PackageTemplate struct {
	ID           string
	Name         string
	ZoneID       string
	DataBytes    int64
	ValidityDays int
	Price        decimal.Decimal
	Currency     string
	Active       bool
	UpdatedAt    time.Time
}

func (p *PackageTemplate) IsZero() bool { return p == nil || p.ID == "" }
