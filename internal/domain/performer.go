package domain

import "time"

type PerformerStatus string

const (
	PerformerStatusPending   PerformerStatus = "pending"
	PerformerStatusApproved  PerformerStatus = "approved"
	PerformerStatusRejected  PerformerStatus = "rejected"
	PerformerStatusSuspended PerformerStatus = "suspended"
)

func (s PerformerStatus) Valid() bool {
	switch s {
	case PerformerStatusPending, PerformerStatusApproved, PerformerStatusRejected, PerformerStatusSuspended:
		return true
	}
	return false
}

// Performer is the read model of a catalog entry. ID is the performer's user id.
type Performer struct {
	ID            string          `json:"id"`
	DisplayName   string          `json:"displayName"`
	Status        PerformerStatus `json:"status"`
	TotalBookings int64           `json:"totalBookings"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
