package models

import "time"

// Coordinate is a WGS-84 point. Values outside the valid lat/lng ranges are
// rejected at the edges (geocoding, config) so the rest of the code can
// assume a Coordinate it holds is valid.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies in the WGS-84 range.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// VehicleClass is a pricing/service tier.
type VehicleClass string

const (
	VehicleBike  VehicleClass = "Bike"
	VehicleAuto  VehicleClass = "Auto"
	VehicleCar   VehicleClass = "Car"
	VehicleShare VehicleClass = "Share"
)

// RideStatus is the lifecycle state of a ride as seen by the client.
type RideStatus string

const (
	StatusIdle       RideStatus = "IDLE"
	StatusDrafted    RideStatus = "DRAFTED"
	StatusRequested  RideStatus = "REQUESTED"
	StatusAccepted   RideStatus = "ACCEPTED"
	StatusInProgress RideStatus = "IN_PROGRESS"
	StatusCompleted  RideStatus = "COMPLETED"
	StatusCancelled  RideStatus = "CANCELLED"
)

// Terminal reports whether a ride in this status can never advance again.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RideRecord is the central entity. A draft has no BookingID; once the
// backend assigns one the backend is the source of truth and this record is
// a cache invalidated by inbound events.
type RideRecord struct {
	BookingID    string       `json:"booking_id,omitempty"`
	CustomerID   string       `json:"customer_id"`
	DriverID     string       `json:"driver_id,omitempty"`
	Pickup       Coordinate   `json:"pickup"`
	Drop         Coordinate   `json:"drop"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Fare         float64      `json:"fare"`
	Status       RideStatus   `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// FareQuote is derived, never persisted; recomputed whenever both endpoints
// resolve or the vehicle class changes.
type FareQuote struct {
	VehicleClass VehicleClass `json:"vehicle_class"`
	DistanceKm   float64      `json:"distance_km"`
	EtaMinutes   int          `json:"eta_minutes"`
	Price        float64      `json:"price"`
}

// ResolvedAddress is a geocoding result.
type ResolvedAddress struct {
	Coordinate  Coordinate        `json:"coordinate"`
	DisplayName string            `json:"display_name"`
	Components  map[string]string `json:"components,omitempty"`
}

// RideOffer is an open ride visible to candidate drivers before acceptance.
// SeenAt is client-side bookkeeping for staleness eviction.
type RideOffer struct {
	BookingID  string       `json:"booking_id"`
	CustomerID string       `json:"customer_id"`
	Pickup     Coordinate   `json:"pickup"`
	Drop       Coordinate   `json:"drop"`
	Vehicle    VehicleClass `json:"vehicle_class"`
	Fare       float64      `json:"fare"`
	SeenAt     time.Time    `json:"-"`
}

// Ride-status event types.
const (
	EventRideRequested = "RIDE_REQUESTED"
	EventRideAccepted  = "RIDE_ACCEPTED"
	EventRideStarted   = "RIDE_STARTED"
	EventRideCompleted = "RIDE_COMPLETED"
	EventRideCancelled = "RIDE_CANCELLED"
)

// RideStatusEvent is the payload on ride-status:{userId}.
type RideStatusEvent struct {
	Type string     `json:"type"`
	Ride RideRecord `json:"ride"`
}

// DriverLocation is the payload on driver-location:{driverId}.
type DriverLocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

// ChatMessage is the payload on chat:{bookingId}.
type ChatMessage struct {
	SenderID   string    `json:"sender_id"`
	SenderType string    `json:"sender_type"` // "customer" or "driver"
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}
