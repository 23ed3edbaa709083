package messages

import "time"

// LoadStatusChanged is published to the load events topic for every entry
// appended to a load's history.
type LoadStatusChanged struct {
	EventID    string    `json:"event_id"`
	LoadID     string    `json:"load_id"`
	ShipperID  string    `json:"shipper_id"`
	CarrierID  *string   `json:"carrier_id,omitempty"`
	OldStatus  *string   `json:"old_status,omitempty"`
	NewStatus  string    `json:"new_status"`
	ActorID    *string   `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
