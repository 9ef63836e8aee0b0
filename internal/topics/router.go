// Package topics layers typed envelopes over the manager's raw string
// pub/sub. Three topic families exist: ride-status keyed by user, driver
// location keyed by driver, chat keyed by booking.
package topics

import (
	"encoding/json"
	"log/slog"

	"github.com/example/ride-client/internal/conn"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

const (
	familyRideStatus     = "ride-status"
	familyDriverLocation = "driver-location"
	familyChat           = "chat"

	appPrefix = "app/"
)

// RideStatusKey builds the composite topic key for a user's ride updates.
func RideStatusKey(userID string) string { return familyRideStatus + ":" + userID }

// DriverLocationKey builds the topic key for a driver's position stream.
func DriverLocationKey(driverID string) string { return familyDriverLocation + ":" + driverID }

// ChatKey builds the topic key for a booking's chat channel.
func ChatKey(bookingID string) string { return familyChat + ":" + bookingID }

// Router performs message decoding and dispatch for the topic families.
// A malformed payload is logged and dropped; it never breaks the handler
// chain for subsequent messages.
type Router struct {
	mgr *conn.Manager
	log *slog.Logger
}

func NewRouter(mgr *conn.Manager, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{mgr: mgr, log: log}
}

func (r *Router) SubscribeRideStatus(userID string, h func(models.RideStatusEvent)) conn.Handle {
	return r.mgr.Subscribe(RideStatusKey(userID), func(body []byte) {
		var ev models.RideStatusEvent
		if err := json.Unmarshal(body, &ev); err != nil || ev.Type == "" {
			r.drop(familyRideStatus, body, err)
			return
		}
		observability.MessagesDelivered.WithLabelValues(familyRideStatus).Inc()
		h(ev)
	})
}

func (r *Router) SubscribeDriverLocation(driverID string, h func(models.DriverLocation)) conn.Handle {
	return r.mgr.Subscribe(DriverLocationKey(driverID), func(body []byte) {
		var loc models.DriverLocation
		if err := json.Unmarshal(body, &loc); err != nil {
			r.drop(familyDriverLocation, body, err)
			return
		}
		observability.MessagesDelivered.WithLabelValues(familyDriverLocation).Inc()
		h(loc)
	})
}

func (r *Router) SubscribeChat(bookingID string, h func(models.ChatMessage)) conn.Handle {
	return r.mgr.Subscribe(ChatKey(bookingID), func(body []byte) {
		var msg models.ChatMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			r.drop(familyChat, body, err)
			return
		}
		observability.MessagesDelivered.WithLabelValues(familyChat).Inc()
		h(msg)
	})
}

// PublishRideStatus sends an outbound ride action on the user's channel.
func (r *Router) PublishRideStatus(userID string, ev models.RideStatusEvent) error {
	return r.mgr.Publish(appPrefix+RideStatusKey(userID), ev)
}

// PublishDriverLocation pushes the driver's own position.
func (r *Router) PublishDriverLocation(driverID string, loc models.DriverLocation) error {
	return r.mgr.Publish(appPrefix+DriverLocationKey(driverID), loc)
}

// PublishChat sends a chat message on the booking channel.
func (r *Router) PublishChat(bookingID string, msg models.ChatMessage) error {
	return r.mgr.Publish(appPrefix+ChatKey(bookingID), msg)
}

func (r *Router) drop(family string, body []byte, err error) {
	observability.MessagesDropped.WithLabelValues(family, "malformed").Inc()
	r.log.Warn("dropping malformed message", "family", family, "error", err, "body", string(body))
}
