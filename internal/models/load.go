package models

import (
	"strings"
	"time"
)

type LoadStatus string

// Статусы жизненного цикла груза.
const (
	LoadStatusPending   LoadStatus = "pending"
	LoadStatusAssigned  LoadStatus = "assigned"
	LoadStatusInTransit LoadStatus = "in_transit"
	LoadStatusDelivered LoadStatus = "delivered"
	LoadStatusCancelled LoadStatus = "cancelled"
)

var AllLoadStatuses = []LoadStatus{
	LoadStatusPending,
	LoadStatusAssigned,
	LoadStatusInTransit,
	LoadStatusDelivered,
	LoadStatusCancelled,
}

func ParseLoadStatus(s string) (LoadStatus, bool) {
	v := LoadStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range AllLoadStatuses {
		if st == v {
			return v, true
		}
	}
	return "", false
}

// Terminal reports whether no further transitions are possible.
func (s LoadStatus) Terminal() bool {
	return s == LoadStatusDelivered || s == LoadStatusCancelled
}

type Load struct {
	ID           string     `json:"id"`
	ShipperID    string     `json:"shipperId"`
	CarrierID    *string    `json:"carrierId"`
	Origin       string     `json:"origin"`
	Destination  string     `json:"destination"`
	Weight       float64    `json:"weight"`
	Price        float64    `json:"price"`
	PickupDate   time.Time  `json:"pickupDate"`
	DeliveryDate time.Time  `json:"deliveryDate"`
	Status       LoadStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (l *Load) AssignedTo(carrierID string) bool {
	return l.CarrierID != nil && *l.CarrierID == carrierID
}

type LoadCreateInput struct {
	Origin       string
	Destination  string
	Weight       float64
	Price        float64
	PickupDate   time.Time
	DeliveryDate *time.Time
}

type LoadHistoryEntry struct {
	ID        string      `json:"id"`
	LoadID    string      `json:"loadId"`
	OldStatus *LoadStatus `json:"oldStatus"`
	NewStatus LoadStatus  `json:"newStatus"`
	ActorID   *string     `json:"actorId"`
	Note      string      `json:"note"`
	CreatedAt time.Time   `json:"timestamp"`
}

// LoadFilter is the storage-level predicate for listing loads. Zero values
// mean "no constraint".
type LoadFilter struct {
	Statuses     []LoadStatus
	ShipperID    string
	CarrierID    string
	Origin       string
	Destination  string
	PickupFrom   *time.Time
	PickupTo     *time.Time
	DeliveryFrom *time.Time
	DeliveryTo   *time.Time

	Limit  int
	Offset int
}

type LoadPage struct {
	Items    []*Load `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}
