package ride

import (
	"errors"
	"fmt"

	"github.com/example/ride-client/internal/models"
)

// Event drives the ride lifecycle machine. Local actions and inbound
// notifications map onto the same event set so transition legality lives in
// exactly one place.
type Event string

const (
	EvDraft    Event = "DRAFT"
	EvConfirm  Event = "CONFIRM"
	EvAccepted Event = "ACCEPTED"
	EvStart    Event = "START"
	EvComplete Event = "COMPLETE"
	EvCancel   Event = "CANCEL"
)

// ErrInvalidTransition marks a transition the lifecycle does not allow.
// Requesting one is a programmer error, not an expected outcome.
var ErrInvalidTransition = errors.New("ride: invalid transition")

var transitions = map[models.RideStatus]map[Event]models.RideStatus{
	models.StatusIdle: {
		EvDraft: models.StatusDrafted,
	},
	models.StatusDrafted: {
		EvConfirm: models.StatusRequested,
		EvCancel:  models.StatusCancelled,
	},
	models.StatusRequested: {
		EvAccepted: models.StatusAccepted,
		EvCancel:   models.StatusCancelled,
	},
	models.StatusAccepted: {
		EvStart:  models.StatusInProgress,
		EvCancel: models.StatusCancelled,
	},
	models.StatusInProgress: {
		EvComplete: models.StatusCompleted,
	},
}

// Transition is the pure step function of the lifecycle machine. Side
// effects (publishes, subscriptions, settlement) live in the session shell.
func Transition(from models.RideStatus, ev Event) (models.RideStatus, error) {
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}
