package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-client/internal/backend"
	"github.com/example/ride-client/internal/conn"
	"github.com/example/ride-client/internal/fare"
	"github.com/example/ride-client/internal/ingest"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/store"
)

// Router is the typed pub/sub surface the session consumes. Implemented by
// *topics.Router; tests substitute a fake.
type Router interface {
	SubscribeRideStatus(userID string, h func(models.RideStatusEvent)) conn.Handle
	SubscribeDriverLocation(driverID string, h func(models.DriverLocation)) conn.Handle
	SubscribeChat(bookingID string, h func(models.ChatMessage)) conn.Handle
	PublishRideStatus(userID string, ev models.RideStatusEvent) error
	PublishChat(bookingID string, msg models.ChatMessage) error
}

// RideBackend is the subset of the REST collaborator the customer session
// calls.
type RideBackend interface {
	RequestRide(ctx context.Context, draft models.RideRecord) (models.RideRecord, error)
	StartRide(ctx context.Context, bookingID string) error
	CompleteRide(ctx context.Context, bookingID string) error
	CancelRide(ctx context.Context, bookingID string) error
}

// Settler settles the fare once a ride completes.
type Settler interface {
	Settle(ctx context.Context, bookingID string, amount float64, currency string) error
}

// Journal receives lifecycle transitions; may be nil.
type Journal interface {
	RecordTransition(ev ingest.TransitionEvent) error
}

// pendingPublish is the single-slot buffer for the most recent outbound
// ride-status publish that failed while disconnected. Chat is never
// buffered.
type pendingPublish struct {
	userID string
	ev     models.RideStatusEvent
}

// Session drives one customer ride through its lifecycle. All state
// mutations funnel through the pure Transition function; this type is the
// imperative shell that performs publishes, subscriptions, persistence and
// settlement around it.
type Session struct {
	customerID string
	router     Router
	backend    RideBackend
	settler    Settler
	journal    Journal
	sessions   store.SessionStore
	archive    store.TripArchive
	rates      fare.RateTable
	currency   string
	log        *slog.Logger

	mu        sync.Mutex
	status    models.RideStatus
	ride      models.RideRecord
	quote     models.FareQuote
	statusSub conn.Handle
	locSub    conn.Handle
	chatSub   conn.Handle
	lastLoc   *models.DriverLocation
	pending   *pendingPublish

	onDriverLocation func(models.DriverLocation)
	onChat           func(models.ChatMessage)
}

// Options carries the optional session collaborators.
type Options struct {
	Settler  Settler
	Journal  Journal
	Sessions store.SessionStore
	Archive  store.TripArchive
	Rates    fare.RateTable
	Currency string
	Log      *slog.Logger

	// OnDriverLocation and OnChat observe accepted-ride streams; read-only
	// consumers such as the UI attach here.
	OnDriverLocation func(models.DriverLocation)
	OnChat           func(models.ChatMessage)
}

// NewSession builds an idle session for one customer.
func NewSession(customerID string, router Router, rb RideBackend, opts Options) *Session {
	if opts.Sessions == nil {
		opts.Sessions = store.NewMemoryStore()
	}
	if opts.Archive == nil {
		opts.Archive = store.NopArchive{}
	}
	if opts.Rates == nil {
		opts.Rates = fare.DefaultRates()
	}
	if opts.Currency == "" {
		opts.Currency = "inr"
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Session{
		customerID:       customerID,
		router:           router,
		backend:          rb,
		settler:          opts.Settler,
		journal:          opts.Journal,
		sessions:         opts.Sessions,
		archive:          opts.Archive,
		rates:            opts.Rates,
		currency:         opts.Currency,
		log:              opts.Log,
		status:           models.StatusIdle,
		onDriverLocation: opts.OnDriverLocation,
		onChat:           opts.OnChat,
	}
}

// Snapshot is a read-only view for observers.
type Snapshot struct {
	Status         models.RideStatus
	Ride           models.RideRecord
	Quote          models.FareQuote
	DriverLocation *models.DriverLocation
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Status: s.status, Ride: s.ride, Quote: s.quote}
	if s.lastLoc != nil {
		loc := *s.lastLoc
		snap.DriverLocation = &loc
	}
	return snap
}

// Draft computes a quote for the trip and holds it as the current draft.
func (s *Session) Draft(pickup, drop models.Coordinate, class models.VehicleClass) (models.FareQuote, error) {
	if !pickup.Valid() || !drop.Valid() {
		return models.FareQuote{}, fmt.Errorf("ride: draft: coordinates out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Transition(s.status, EvDraft)
	if err != nil {
		return models.FareQuote{}, err
	}
	s.quote = s.rates.QuoteFor(class, pickup, drop)
	now := time.Now()
	s.ride = models.RideRecord{
		CustomerID:   s.customerID,
		Pickup:       pickup,
		Drop:         drop,
		VehicleClass: class,
		Fare:         s.quote.Price,
		Status:       models.StatusDrafted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.advanceLocked(next)
	return s.quote, nil
}

// Confirm submits the draft. The backend assigns the booking id; only then
// does the session subscribe to its ride-status topic and announce the
// request. A backend failure leaves the session in DRAFTED for retry.
func (s *Session) Confirm(ctx context.Context) (models.RideRecord, error) {
	s.mu.Lock()
	next, err := Transition(s.status, EvConfirm)
	if err != nil {
		s.mu.Unlock()
		return models.RideRecord{}, err
	}
	draft := s.ride
	s.mu.Unlock()

	confirmed, err := s.backend.RequestRide(ctx, draft)
	if err != nil {
		return models.RideRecord{}, err
	}

	s.mu.Lock()
	// The lock was dropped across the backend call; a concurrent Cancel may
	// have ended the draft. The booking exists server-side now, so release
	// it instead of resurrecting the ride.
	next, err = Transition(s.status, EvConfirm)
	if err != nil {
		s.mu.Unlock()
		if cerr := s.backend.CancelRide(ctx, confirmed.BookingID); cerr != nil {
			s.log.Warn("releasing orphaned booking failed", "booking_id", confirmed.BookingID, "error", cerr)
		}
		return models.RideRecord{}, err
	}
	defer s.mu.Unlock()
	confirmed.Status = models.StatusRequested
	s.ride = confirmed
	s.statusSub = s.router.SubscribeRideStatus(s.customerID, s.handleStatusEvent)
	s.advanceLocked(next)
	s.publishStatusLocked(models.RideStatusEvent{Type: models.EventRideRequested, Ride: s.ride})
	s.persistLocked(ctx)
	return s.ride, nil
}

// Start moves an accepted ride into progress.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	next, err := Transition(s.status, EvStart)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	bookingID := s.ride.BookingID
	s.advanceLocked(next)
	s.publishStatusLocked(models.RideStatusEvent{Type: models.EventRideStarted, Ride: s.ride})
	s.persistLocked(ctx)
	s.mu.Unlock()

	if err := s.backend.StartRide(ctx, bookingID); err != nil {
		if errors.Is(err, backend.ErrRejected) {
			s.abort(ctx)
			return fmt.Errorf("ride no longer valid: %w", err)
		}
		s.log.Warn("backend start call failed", "booking_id", bookingID, "error", err)
	}
	return nil
}

// abort terminates the local ride after a definitive backend rejection.
// The booking is dead server-side; local state moves to CANCELLED, every
// ride topic is released and the persisted ride is cleared. The transport
// connection stays up.
func (s *Session) abort(ctx context.Context) {
	s.mu.Lock()
	s.status = models.StatusCancelled
	s.ride.Status = models.StatusCancelled
	observability.RideTransitions.WithLabelValues(string(models.StatusCancelled)).Inc()
	s.unsubscribeAllLocked()
	s.pending = nil
	s.mu.Unlock()

	if err := s.sessions.ClearCurrent(ctx); err != nil {
		s.log.Warn("clearing persisted ride failed", "error", err)
	}
}

// Complete finishes the ride, releases the per-ride subscriptions and
// settles payment. A settlement failure is surfaced but the ride stays
// COMPLETED; payment retry is a user action, not an automatic loop.
func (s *Session) Complete(ctx context.Context) error {
	s.mu.Lock()
	next, err := Transition(s.status, EvComplete)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.advanceLocked(next)
	s.dropRideTopicsLocked()
	s.publishStatusLocked(models.RideStatusEvent{Type: models.EventRideCompleted, Ride: s.ride})
	done := s.ride
	s.mu.Unlock()

	if err := s.backend.CompleteRide(ctx, done.BookingID); err != nil {
		s.log.Warn("backend complete call failed", "booking_id", done.BookingID, "error", err)
	}
	if err := s.archive.Archive(ctx, done); err != nil {
		s.log.Warn("trip archive failed", "booking_id", done.BookingID, "error", err)
	}
	if err := s.sessions.ClearCurrent(ctx); err != nil {
		s.log.Warn("clearing persisted ride failed", "error", err)
	}

	if s.settler != nil {
		if err := s.settler.Settle(ctx, done.BookingID, done.Fare, s.currency); err != nil {
			return fmt.Errorf("ride completed but settlement failed: %w", err)
		}
	}
	return nil
}

// Cancel abandons the ride from DRAFTED, REQUESTED or ACCEPTED and releases
// every ride topic including the ambient ride-status subscription.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	next, err := Transition(s.status, EvCancel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	bookingID := s.ride.BookingID
	s.publishStatusLocked(models.RideStatusEvent{Type: models.EventRideCancelled, Ride: s.ride})
	s.advanceLocked(next)
	s.unsubscribeAllLocked()
	s.pending = nil
	cancelled := s.ride
	s.mu.Unlock()

	if bookingID != "" {
		if err := s.backend.CancelRide(ctx, bookingID); err != nil {
			s.log.Warn("backend cancel call failed", "booking_id", bookingID, "error", err)
		}
	}
	if err := s.archive.Archive(ctx, cancelled); err != nil {
		s.log.Warn("trip archive failed", "booking_id", bookingID, "error", err)
	}
	if err := s.sessions.ClearCurrent(ctx); err != nil {
		s.log.Warn("clearing persisted ride failed", "error", err)
	}
	return nil
}

// SendChat publishes a chat message on the booking channel. Chat is never
// buffered: if the transport is down the caller sees ErrNotConnected.
func (s *Session) SendChat(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.status != models.StatusAccepted && s.status != models.StatusInProgress {
		s.mu.Unlock()
		return fmt.Errorf("%w: chat on %s", ErrInvalidTransition, s.status)
	}
	bookingID := s.ride.BookingID
	s.mu.Unlock()
	return s.router.PublishChat(bookingID, models.ChatMessage{
		SenderID:   s.customerID,
		SenderType: "customer",
		Text:       text,
		Timestamp:  time.Now(),
	})
}

// Resume restores a persisted ride after a restart. Terminal or absent
// records leave the session idle.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	rec, ok, err := s.sessions.LoadCurrent(ctx)
	if err != nil {
		return false, err
	}
	if !ok || rec.Status.Terminal() {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusIdle {
		return false, fmt.Errorf("%w: resume on %s", ErrInvalidTransition, s.status)
	}
	s.ride = rec
	s.status = rec.Status
	s.statusSub = s.router.SubscribeRideStatus(s.customerID, s.handleStatusEvent)
	if rec.Status == models.StatusAccepted || rec.Status == models.StatusInProgress {
		s.subscribeDriverTopicsLocked()
	}
	s.log.Info("resumed persisted ride", "booking_id", rec.BookingID, "status", rec.Status)
	return true, nil
}

// RetryPending re-publishes the buffered outbound ride-status message, if
// any. Wire this to the manager's OnReconnected hook.
func (s *Session) RetryPending() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p == nil {
		return
	}
	if err := s.router.PublishRideStatus(p.userID, p.ev); err != nil {
		s.log.Warn("pending publish retry failed", "type", p.ev.Type, "error", err)
		s.mu.Lock()
		if s.pending == nil {
			s.pending = p
		}
		s.mu.Unlock()
	}
}

// handleStatusEvent consumes inbound ride-status notifications. Events for
// unknown bookings are dropped, and a duplicate RIDE_ACCEPTED for a ride
// already accepted or later is a no-op: the matching backend may retry
// notifications.
func (s *Session) handleStatusEvent(ev models.RideStatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ride.BookingID == "" || ev.Ride.BookingID != s.ride.BookingID {
		observability.MessagesDropped.WithLabelValues("ride-status", "unknown_booking").Inc()
		s.log.Debug("ignoring event for unknown booking", "event", ev.Type, "booking_id", ev.Ride.BookingID)
		return
	}

	switch ev.Type {
	case models.EventRideAccepted:
		if s.status != models.StatusRequested {
			// Duplicate delivery; already accepted or later.
			return
		}
		next, err := Transition(s.status, EvAccepted)
		if err != nil {
			return
		}
		s.ride.DriverID = ev.Ride.DriverID
		if ev.Ride.Fare > 0 {
			s.ride.Fare = ev.Ride.Fare
		}
		s.advanceLocked(next)
		s.subscribeDriverTopicsLocked()
		s.persistLocked(context.Background())

	case models.EventRideStarted:
		if s.status != models.StatusAccepted {
			return
		}
		next, err := Transition(s.status, EvStart)
		if err != nil {
			return
		}
		s.advanceLocked(next)
		s.persistLocked(context.Background())

	case models.EventRideCompleted:
		if s.status != models.StatusInProgress {
			return
		}
		next, err := Transition(s.status, EvComplete)
		if err != nil {
			return
		}
		s.advanceLocked(next)
		s.dropRideTopicsLocked()
		s.clearPersistedLocked(context.Background())

	case models.EventRideCancelled:
		next, err := Transition(s.status, EvCancel)
		if err != nil {
			// Terminal or in-progress; stale delivery, drop it.
			return
		}
		s.advanceLocked(next)
		s.unsubscribeAllLocked()
		s.pending = nil
		s.clearPersistedLocked(context.Background())
		s.log.Info("ride cancelled by backend", "booking_id", s.ride.BookingID)

	default:
		observability.MessagesDropped.WithLabelValues("ride-status", "unknown_type").Inc()
		s.log.Debug("ignoring unknown ride-status event", "type", ev.Type)
	}
}

// advanceLocked applies a transition result to the cached record.
func (s *Session) advanceLocked(next models.RideStatus) {
	from := s.status
	s.status = next
	s.ride.Status = next
	s.ride.UpdatedAt = time.Now()
	observability.RideTransitions.WithLabelValues(string(next)).Inc()
	if s.journal != nil && s.ride.BookingID != "" {
		if err := s.journal.RecordTransition(ingest.TransitionEvent{
			BookingID: s.ride.BookingID,
			From:      from,
			To:        next,
			At:        s.ride.UpdatedAt,
		}); err != nil {
			s.log.Debug("journal write failed", "error", err)
		}
	}
}

// publishStatusLocked publishes an outbound ride-status event, buffering at
// most the single most recent one when the transport is down.
func (s *Session) publishStatusLocked(ev models.RideStatusEvent) {
	if err := s.router.PublishRideStatus(s.customerID, ev); err != nil {
		if errors.Is(err, conn.ErrNotConnected) {
			s.pending = &pendingPublish{userID: s.customerID, ev: ev}
			s.log.Info("transport down, buffered outbound status", "type", ev.Type)
			return
		}
		s.log.Warn("status publish failed", "type", ev.Type, "error", err)
	}
}

func (s *Session) subscribeDriverTopicsLocked() {
	driverID := s.ride.DriverID
	bookingID := s.ride.BookingID
	s.locSub = s.router.SubscribeDriverLocation(driverID, func(loc models.DriverLocation) {
		s.mu.Lock()
		s.lastLoc = &loc
		cb := s.onDriverLocation
		s.mu.Unlock()
		if cb != nil {
			cb(loc)
		}
	})
	s.chatSub = s.router.SubscribeChat(bookingID, func(msg models.ChatMessage) {
		s.mu.Lock()
		cb := s.onChat
		s.mu.Unlock()
		if cb != nil {
			cb(msg)
		}
	})
}

// dropRideTopicsLocked releases driver-location and chat but keeps the
// ambient ride-status subscription.
func (s *Session) dropRideTopicsLocked() {
	if s.locSub != nil {
		s.locSub.Unsubscribe()
		s.locSub = nil
	}
	if s.chatSub != nil {
		s.chatSub.Unsubscribe()
		s.chatSub = nil
	}
}

func (s *Session) unsubscribeAllLocked() {
	s.dropRideTopicsLocked()
	if s.statusSub != nil {
		s.statusSub.Unsubscribe()
		s.statusSub = nil
	}
}

func (s *Session) persistLocked(ctx context.Context) {
	if err := s.sessions.SaveCurrent(ctx, s.ride); err != nil {
		s.log.Warn("persisting current ride failed", "error", err)
	}
}

func (s *Session) clearPersistedLocked(ctx context.Context) {
	if err := s.sessions.ClearCurrent(ctx); err != nil {
		s.log.Warn("clearing persisted ride failed", "error", err)
	}
}

var _ RideBackend = (*backend.Client)(nil)
