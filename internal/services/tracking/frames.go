package tracking

import (
	"time"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

// Client to server frame types.
const (
	FrameInit           = "init"
	FrameLocationUpdate = "location_update"
	FramePing           = "ping"
)

// Server to client frame types.
const (
	FrameConnected        = "connected"
	FrameAuthenticated    = "authenticated"
	FrameLocationReceived = "location_received"
	FramePong             = "pong"
	FrameError            = "error"
)

type InboundFrame struct {
	Type       string     `json:"type"`
	Credential string     `json:"credential,omitempty"`
	LoadID     string     `json:"loadId,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Altitude   *float64   `json:"altitude,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	Heading    *float64   `json:"heading,omitempty"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	DeviceID   *string    `json:"deviceId,omitempty"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

func (f InboundFrame) locationInput() models.LocationInput {
	return models.LocationInput{
		LoadID:     f.LoadID,
		Latitude:   f.Latitude,
		Longitude:  f.Longitude,
		Altitude:   f.Altitude,
		Speed:      f.Speed,
		Heading:    f.Heading,
		Accuracy:   f.Accuracy,
		DeviceID:   f.DeviceID,
		RecordedAt: f.RecordedAt,
	}
}

type OutboundFrame struct {
	Type       string     `json:"type"`
	CarrierID  string     `json:"carrierId,omitempty"`
	LoadID     string     `json:"loadId,omitempty"`
	SampleID   string     `json:"sampleId,omitempty"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Message    string     `json:"message,omitempty"`
}

func errorFrame(msg string) OutboundFrame {
	return OutboundFrame{Type: FrameError, Message: msg}
}
