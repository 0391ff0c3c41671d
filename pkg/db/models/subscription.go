package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefrontlabs/billing-sync/pkg/enums"
)

// Subscription persists the store's local record of one recurring billing
// agreement. The remote profile is owned by whichever backend issued
// ProfileID; this row only mirrors its last-known state.
type Subscription struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null"`

	// ProfileID is the opaque identifier assigned by the owning backend.
	// Formats differ per backend, so the two namespaces never collide.
	ProfileID        string              `gorm:"column:profile_id;not null;uniqueIndex"`
	Status           enums.ProfileStatus `gorm:"column:status;not null;default:'Pending'"`
	PreferredGateway *enums.GatewayKind  `gorm:"column:preferred_gateway"`

	BillingPeriod      string          `gorm:"column:billing_period"`
	BillingFrequency   int             `gorm:"column:billing_frequency;not null;default:1"`
	TotalBillingCycles int             `gorm:"column:total_billing_cycles;not null;default:0"`
	Amount             decimal.Decimal `gorm:"column:amount;type:numeric(12,2)"`
	Currency           string          `gorm:"column:currency;not null;default:'USD'"`
	ExpirationDate     *time.Time      `gorm:"column:expiration_date"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// GatewayKind returns the preferred gateway or empty when unresolved.
func (s *Subscription) GatewayKind() enums.GatewayKind {
	if s == nil || s.PreferredGateway == nil {
		return ""
	}
	return *s.PreferredGateway
}
