package models

import "time"

type LocationSample struct {
	ID         string    `json:"id"`
	LoadID     string    `json:"loadId"`
	CarrierID  string    `json:"carrierId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	DeviceID   *string   `json:"deviceId,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// LocationInput is an unvalidated sample as submitted by a device.
type LocationInput struct {
	LoadID     string
	Latitude   *float64
	Longitude  *float64
	Altitude   *float64
	Speed      *float64
	Heading    *float64
	Accuracy   *float64
	DeviceID   *string
	RecordedAt *time.Time
}
