package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/example/ride-client/internal/backend"
	"github.com/example/ride-client/internal/conn"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/store"
)

type fakeHandle struct {
	key    string
	router *fakeRouter
}

func (h *fakeHandle) TopicKey() string { return h.key }

func (h *fakeHandle) Unsubscribe() {
	h.router.mu.Lock()
	defer h.router.mu.Unlock()
	delete(h.router.statusHandlers, h.key)
	delete(h.router.locHandlers, h.key)
	delete(h.router.chatHandlers, h.key)
	h.router.unsubscribed = append(h.router.unsubscribed, h.key)
}

type fakeRouter struct {
	mu             sync.Mutex
	offline        bool
	statusHandlers map[string]func(models.RideStatusEvent)
	locHandlers    map[string]func(models.DriverLocation)
	chatHandlers   map[string]func(models.ChatMessage)
	locSubCount    int
	unsubscribed   []string
	statusOut      []models.RideStatusEvent
	chatOut        []models.ChatMessage
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		statusHandlers: make(map[string]func(models.RideStatusEvent)),
		locHandlers:    make(map[string]func(models.DriverLocation)),
		chatHandlers:   make(map[string]func(models.ChatMessage)),
	}
}

func (r *fakeRouter) SubscribeRideStatus(userID string, h func(models.RideStatusEvent)) conn.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := "ride-status:" + userID
	r.statusHandlers[key] = h
	return &fakeHandle{key: key, router: r}
}

func (r *fakeRouter) SubscribeDriverLocation(driverID string, h func(models.DriverLocation)) conn.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := "driver-location:" + driverID
	r.locHandlers[key] = h
	r.locSubCount++
	return &fakeHandle{key: key, router: r}
}

func (r *fakeRouter) SubscribeChat(bookingID string, h func(models.ChatMessage)) conn.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := "chat:" + bookingID
	r.chatHandlers[key] = h
	return &fakeHandle{key: key, router: r}
}

func (r *fakeRouter) PublishRideStatus(userID string, ev models.RideStatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return conn.ErrNotConnected
	}
	r.statusOut = append(r.statusOut, ev)
	return nil
}

func (r *fakeRouter) PublishChat(bookingID string, msg models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return conn.ErrNotConnected
	}
	r.chatOut = append(r.chatOut, msg)
	return nil
}

// deliverStatus simulates an inbound ride-status notification for userID.
func (r *fakeRouter) deliverStatus(userID string, ev models.RideStatusEvent) {
	r.mu.Lock()
	h := r.statusHandlers["ride-status:"+userID]
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

type fakeBackend struct {
	mu        sync.Mutex
	requests  int
	starts    []string
	completes []string
	cancels   []string
	startErr  error
	onRequest func() // runs while the request is "in flight"
}

func (b *fakeBackend) RequestRide(_ context.Context, draft models.RideRecord) (models.RideRecord, error) {
	b.mu.Lock()
	b.requests++
	hook := b.onRequest
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	draft.BookingID = "bk-1"
	draft.Status = models.StatusRequested
	return draft, nil
}

func (b *fakeBackend) StartRide(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts = append(b.starts, id)
	return b.startErr
}

func (b *fakeBackend) CompleteRide(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completes = append(b.completes, id)
	return nil
}

func (b *fakeBackend) CancelRide(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, id)
	return nil
}

type fakeSettler struct {
	calls []string
	err   error
}

func (s *fakeSettler) Settle(_ context.Context, bookingID string, _ float64, _ string) error {
	s.calls = append(s.calls, bookingID)
	return s.err
}

var (
	testPickup = models.Coordinate{Lat: 28.6139, Lng: 77.2090}
	testDrop   = models.Coordinate{Lat: 28.4595, Lng: 77.0266}
)

func newTestSession(t *testing.T) (*Session, *fakeRouter, *fakeBackend, *fakeSettler) {
	t.Helper()
	r := newFakeRouter()
	b := &fakeBackend{}
	settler := &fakeSettler{}
	s := NewSession("u1", r, b, Options{Settler: settler})
	return s, r, b, settler
}

func requestRide(t *testing.T, s *Session, r *fakeRouter) {
	t.Helper()
	if _, err := s.Draft(testPickup, testDrop, models.VehicleCar); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func acceptedEvent(bookingID string) models.RideStatusEvent {
	return models.RideStatusEvent{
		Type: models.EventRideAccepted,
		Ride: models.RideRecord{BookingID: bookingID, CustomerID: "u1", DriverID: "d1", Fare: 453.5, Status: models.StatusAccepted},
	}
}

func TestDraftComputesQuote(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	q, err := s.Draft(testPickup, testDrop, models.VehicleCar)
	if err != nil {
		t.Fatal(err)
	}
	if q.Price < 450.15 || q.Price > 452.15 {
		t.Fatalf("quote price = %f, want ~451.15", q.Price)
	}
	if q.EtaMinutes < 1 {
		t.Fatalf("eta = %d, want >= 1", q.EtaMinutes)
	}
	if got := s.Snapshot().Status; got != models.StatusDrafted {
		t.Fatalf("status = %s, want DRAFTED", got)
	}
}

func TestConfirmSubscribesAndPublishes(t *testing.T) {
	s, r, b, _ := newTestSession(t)
	requestRide(t, s, r)

	if b.requests != 1 {
		t.Fatalf("backend requests = %d, want 1", b.requests)
	}
	snap := s.Snapshot()
	if snap.Status != models.StatusRequested || snap.Ride.BookingID != "bk-1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, ok := r.statusHandlers["ride-status:u1"]; !ok {
		t.Fatal("ride-status subscription missing after confirm")
	}
	if len(r.statusOut) != 1 || r.statusOut[0].Type != models.EventRideRequested {
		t.Fatalf("unexpected outbound events %+v", r.statusOut)
	}
}

func TestAcceptedEventSubscribesDriverTopics(t *testing.T) {
	s, r, _, _ := newTestSession(t)
	requestRide(t, s, r)

	r.deliverStatus("u1", acceptedEvent("bk-1"))

	snap := s.Snapshot()
	if snap.Status != models.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", snap.Status)
	}
	if snap.Ride.DriverID != "d1" {
		t.Fatalf("driver id = %q, want d1", snap.Ride.DriverID)
	}
	if _, ok := r.locHandlers["driver-location:d1"]; !ok {
		t.Fatal("driver-location subscription missing")
	}
	if _, ok := r.chatHandlers["chat:bk-1"]; !ok {
		t.Fatal("chat subscription missing")
	}
}

func TestDuplicateAcceptedIsIdempotent(t *testing.T) {
	s, r, _, _ := newTestSession(t)
	requestRide(t, s, r)

	r.deliverStatus("u1", acceptedEvent("bk-1"))
	r.deliverStatus("u1", acceptedEvent("bk-1"))

	if s.Snapshot().Status != models.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", s.Snapshot().Status)
	}
	if r.locSubCount != 1 {
		t.Fatalf("driver-location subscribed %d times, want 1", r.locSubCount)
	}
}

func TestUnknownBookingEventIgnored(t *testing.T) {
	s, r, _, _ := newTestSession(t)
	requestRide(t, s, r)
	r.deliverStatus("u1", acceptedEvent("bk-1"))

	before := s.Snapshot()
	r.deliverStatus("u1", models.RideStatusEvent{
		Type: models.EventRideCancelled,
		Ride: models.RideRecord{BookingID: "bk-other", CustomerID: "u1"},
	})
	after := s.Snapshot()
	if after.Status != before.Status || after.Ride.BookingID != before.Ride.BookingID {
		t.Fatalf("stale event mutated state: before=%+v after=%+v", before, after)
	}
}

func TestCancelFromRequestedUnsubscribesRideStatus(t *testing.T) {
	s, r, b, _ := newTestSession(t)
	requestRide(t, s, r)

	if err := s.Cancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Status; got != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	if len(b.cancels) != 1 || b.cancels[0] != "bk-1" {
		t.Fatalf("backend cancel calls = %v", b.cancels)
	}
	if _, ok := r.statusHandlers["ride-status:u1"]; ok {
		t.Fatal("ride-status still subscribed after cancel")
	}

	// Further deliveries have no observable effect.
	r.deliverStatus("u1", acceptedEvent("bk-1"))
	if got := s.Snapshot().Status; got != models.StatusCancelled {
		t.Fatalf("post-cancel event changed status to %s", got)
	}
}

func TestCompleteUnsubscribesAndSettles(t *testing.T) {
	s, r, b, settler := newTestSession(t)
	requestRide(t, s, r)
	r.deliverStatus("u1", acceptedEvent("bk-1"))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Complete(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Status; got != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got)
	}
	if _, ok := r.locHandlers["driver-location:d1"]; ok {
		t.Fatal("driver-location still subscribed after complete")
	}
	if _, ok := r.chatHandlers["chat:bk-1"]; ok {
		t.Fatal("chat still subscribed after complete")
	}
	if _, ok := r.statusHandlers["ride-status:u1"]; !ok {
		t.Fatal("ambient ride-status subscription should survive completion")
	}
	if len(settler.calls) != 1 || settler.calls[0] != "bk-1" {
		t.Fatalf("settlement calls = %v, want one for bk-1", settler.calls)
	}
	if len(b.completes) != 1 {
		t.Fatalf("backend complete calls = %v", b.completes)
	}
}

func TestSettlementFailureSurfacedButRideStaysCompleted(t *testing.T) {
	s, r, _, settler := newTestSession(t)
	settler.err = errors.New("card declined")
	requestRide(t, s, r)
	r.deliverStatus("u1", acceptedEvent("bk-1"))
	_ = s.Start(context.Background())

	err := s.Complete(context.Background())
	if err == nil {
		t.Fatal("expected settlement error to surface")
	}
	if got := s.Snapshot().Status; got != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED despite settlement failure", got)
	}
}

func TestCancelDuringConfirmDoesNotResurrectRide(t *testing.T) {
	s, r, b, _ := newTestSession(t)
	if _, err := s.Draft(testPickup, testDrop, models.VehicleCar); err != nil {
		t.Fatal(err)
	}
	b.onRequest = func() {
		if err := s.Cancel(context.Background()); err != nil {
			t.Fatalf("cancel during in-flight confirm: %v", err)
		}
	}

	if _, err := s.Confirm(context.Background()); err == nil {
		t.Fatal("confirm should fail when the draft was cancelled mid-flight")
	}
	if got := s.Snapshot().Status; got != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	if _, ok := r.statusHandlers["ride-status:u1"]; ok {
		t.Fatal("ride-status subscription created for a cancelled draft")
	}
	if len(b.cancels) != 1 || b.cancels[0] != "bk-1" {
		t.Fatalf("orphaned booking not released, cancels=%v", b.cancels)
	}
}

func TestInboundCancelClearsPersistedRide(t *testing.T) {
	r := newFakeRouter()
	sessions := store.NewMemoryStore()
	s := NewSession("u1", r, &fakeBackend{}, Options{Sessions: sessions})
	if _, err := s.Draft(testPickup, testDrop, models.VehicleCar); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}

	r.deliverStatus("u1", models.RideStatusEvent{
		Type: models.EventRideCancelled,
		Ride: models.RideRecord{BookingID: "bk-1", CustomerID: "u1"},
	})
	if got := s.Snapshot().Status; got != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	if _, ok, err := sessions.LoadCurrent(context.Background()); err != nil || ok {
		t.Fatalf("persisted ride survived inbound cancel: ok=%v err=%v", ok, err)
	}

	// A restart must not bring the dead ride back.
	s2 := NewSession("u1", newFakeRouter(), &fakeBackend{}, Options{Sessions: sessions})
	if ok, err := s2.Resume(context.Background()); err != nil || ok {
		t.Fatalf("dead ride resumed: ok=%v err=%v", ok, err)
	}
}

func TestInboundCompleteClearsPersistedRide(t *testing.T) {
	r := newFakeRouter()
	sessions := store.NewMemoryStore()
	s := NewSession("u1", r, &fakeBackend{}, Options{Sessions: sessions})
	if _, err := s.Draft(testPickup, testDrop, models.VehicleCar); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.deliverStatus("u1", acceptedEvent("bk-1"))
	r.deliverStatus("u1", models.RideStatusEvent{
		Type: models.EventRideStarted,
		Ride: models.RideRecord{BookingID: "bk-1", CustomerID: "u1"},
	})
	r.deliverStatus("u1", models.RideStatusEvent{
		Type: models.EventRideCompleted,
		Ride: models.RideRecord{BookingID: "bk-1", CustomerID: "u1"},
	})

	if got := s.Snapshot().Status; got != models.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got)
	}
	if _, ok, err := sessions.LoadCurrent(context.Background()); err != nil || ok {
		t.Fatalf("persisted ride survived inbound complete: ok=%v err=%v", ok, err)
	}
}

func TestBackendRejectionAbortsRide(t *testing.T) {
	s, r, b, _ := newTestSession(t)
	requestRide(t, s, r)
	r.deliverStatus("u1", acceptedEvent("bk-1"))

	b.startErr = fmt.Errorf("backend status 410: booking cancelled: %w", backend.ErrRejected)
	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("expected rejection to surface")
	}
	if got := s.Snapshot().Status; got != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED after rejection", got)
	}
	if _, ok := r.statusHandlers["ride-status:u1"]; ok {
		t.Fatal("ride-status still subscribed after abort")
	}
	if _, ok := r.locHandlers["driver-location:d1"]; ok {
		t.Fatal("driver-location still subscribed after abort")
	}
}

func TestStartFromRequestedIsInvalid(t *testing.T) {
	s, r, _, _ := newTestSession(t)
	requestRide(t, s, r)
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestOutboundStatusBufferedAndRetriedAfterReconnect(t *testing.T) {
	s, r, _, _ := newTestSession(t)
	if _, err := s.Draft(testPickup, testDrop, models.VehicleCar); err != nil {
		t.Fatal(err)
	}
	r.offline = true
	if _, err := s.Confirm(context.Background()); err != nil {
		t.Fatal(err) // REST confirm still works; only the publish is down
	}
	if len(r.statusOut) != 0 {
		t.Fatalf("publish should have failed, got %+v", r.statusOut)
	}

	r.offline = false
	s.RetryPending()
	if len(r.statusOut) != 1 || r.statusOut[0].Type != models.EventRideRequested {
		t.Fatalf("buffered publish not retried: %+v", r.statusOut)
	}

	// The buffer is single-shot.
	s.RetryPending()
	if len(r.statusOut) != 1 {
		t.Fatalf("retry replayed more than once: %+v", r.statusOut)
	}
}

func TestChatIsNotBuffered(t *testing.T) {
	s, r, _, _ := newTestSession(t)
	requestRide(t, s, r)
	r.deliverStatus("u1", acceptedEvent("bk-1"))

	r.offline = true
	if err := s.SendChat(context.Background(), "where are you?"); !errors.Is(err, conn.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	r.offline = false
	s.RetryPending()
	if len(r.chatOut) != 0 {
		t.Fatalf("chat was buffered: %+v", r.chatOut)
	}
}

func TestResumeRestoresAcceptedRide(t *testing.T) {
	r := newFakeRouter()
	sessions := store.NewMemoryStore()
	_ = sessions.SaveCurrent(context.Background(), models.RideRecord{
		BookingID: "bk-7", CustomerID: "u1", DriverID: "d1",
		Status: models.StatusAccepted, VehicleClass: models.VehicleCar,
	})

	s := NewSession("u1", r, &fakeBackend{}, Options{Sessions: sessions})
	ok, err := s.Resume(context.Background())
	if err != nil || !ok {
		t.Fatalf("resume: ok=%v err=%v", ok, err)
	}
	if got := s.Snapshot().Status; got != models.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", got)
	}
	if _, sub := r.statusHandlers["ride-status:u1"]; !sub {
		t.Fatal("ride-status not resubscribed on resume")
	}
	if _, sub := r.locHandlers["driver-location:d1"]; !sub {
		t.Fatal("driver-location not resubscribed on resume")
	}
}

func TestResumeIgnoresTerminalRide(t *testing.T) {
	r := newFakeRouter()
	sessions := store.NewMemoryStore()
	_ = sessions.SaveCurrent(context.Background(), models.RideRecord{
		BookingID: "bk-8", CustomerID: "u1", Status: models.StatusCompleted,
	})
	s := NewSession("u1", r, &fakeBackend{}, Options{Sessions: sessions})
	ok, err := s.Resume(context.Background())
	if err != nil || ok {
		t.Fatalf("terminal ride resumed: ok=%v err=%v", ok, err)
	}
	if got := s.Snapshot().Status; got != models.StatusIdle {
		t.Fatalf("status = %s, want IDLE", got)
	}
}
