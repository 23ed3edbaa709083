package messages

import "time"

// LocationIngested is produced by telematics gateways that push samples
// over Kafka instead of a tracking session.
type LocationIngested struct {
	LoadID     string     `json:"load_id"`
	CarrierID  string     `json:"carrier_id"`
	DeviceID   *string    `json:"device_id,omitempty"`
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	Altitude   *float64   `json:"altitude,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	Heading    *float64   `json:"heading,omitempty"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}
