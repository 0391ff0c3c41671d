package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/storefrontlabs/billing-sync/pkg/enums"
)

// RefreshJob is one queued request to re-read a profile's remote status.
// At most one live (pending or locked) job exists per profile.
type RefreshJob struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID       `gorm:"column:customer_id;type:uuid;not null;index"`
	ProfileID  string          `gorm:"column:profile_id;not null;index"`
	Context    json.RawMessage `gorm:"column:context;type:jsonb"`

	State enums.RefreshJobState `gorm:"column:state;not null;default:'pending';index"`

	// LockedBy/LockedAt identify the worker holding the claim. A lock older
	// than the queue's lease duration is reclaimable; see Queue.Claim.
	LockedBy *string    `gorm:"column:locked_by"`
	LockedAt *time.Time `gorm:"column:locked_at"`

	AvailableAt time.Time `gorm:"column:available_at;not null;index"`
	Attempts    int       `gorm:"column:attempts;not null;default:0"`
	LastError   *string   `gorm:"column:last_error"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
