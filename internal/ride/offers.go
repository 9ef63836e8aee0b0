package ride

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-client/internal/backend"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// DefaultOfferTTL is the staleness window after which an offer no longer
// seen in poll results is evicted.
const DefaultOfferTTL = 5 * time.Minute

// MergeRideLists merges a fresh poll result into the previous offer set:
// deduplicated by booking id (incoming entries refresh SeenAt), entries
// older than ttl evicted, result sorted by recency, newest first. Pure; the
// poller and tests share it.
func MergeRideLists(prev, incoming []models.RideOffer, now time.Time, ttl time.Duration) []models.RideOffer {
	byID := make(map[string]models.RideOffer, len(prev)+len(incoming))
	for _, o := range prev {
		byID[o.BookingID] = o
	}
	for _, o := range incoming {
		o.SeenAt = now
		byID[o.BookingID] = o
	}

	merged := make([]models.RideOffer, 0, len(byID))
	for _, o := range byID {
		if now.Sub(o.SeenAt) > ttl {
			observability.OffersEvicted.Inc()
			continue
		}
		merged = append(merged, o)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].SeenAt.Equal(merged[j].SeenAt) {
			return merged[i].SeenAt.After(merged[j].SeenAt)
		}
		return merged[i].BookingID < merged[j].BookingID // stable order for equal times
	})
	return merged
}

// OffersClient is the backend slice the board needs.
type OffersClient interface {
	AvailableRides(ctx context.Context, driverID string) ([]models.RideOffer, error)
	AcceptRide(ctx context.Context, bookingID, driverID string) (backend.AcceptResult, error)
}

// OfferBoard is a driver's local view of open rides. Discovery is polled
// because availability is broadcast to many candidates; results are merged,
// never replaced.
type OfferBoard struct {
	driverID string
	client   OffersClient
	interval time.Duration
	ttl      time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	offers []models.RideOffer
}

func NewOfferBoard(driverID string, client OffersClient, interval, ttl time.Duration, log *slog.Logger) *OfferBoard {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if ttl <= 0 {
		ttl = DefaultOfferTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &OfferBoard{driverID: driverID, client: client, interval: interval, ttl: ttl, log: log}
}

// Offers returns the current merged view, newest first.
func (b *OfferBoard) Offers() []models.RideOffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.RideOffer, len(b.offers))
	copy(out, b.offers)
	return out
}

// Poll fetches one snapshot and merges it in.
func (b *OfferBoard) Poll(ctx context.Context) error {
	incoming, err := b.client.AvailableRides(ctx, b.driverID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.offers = MergeRideLists(b.offers, incoming, time.Now(), b.ttl)
	b.mu.Unlock()
	return nil
}

// Run polls on a fixed interval until the context ends. Poll failures are
// logged and retried on the next tick; the previous view stays intact.
func (b *OfferBoard) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.Warn("offer poll failed", "error", err)
			}
		}
	}
}

// Accept races for an offer. The backend decides; losing the race is a
// soft outcome that removes the offer locally and returns taken=true.
func (b *OfferBoard) Accept(ctx context.Context, bookingID string) (ride models.RideRecord, taken bool, err error) {
	res, err := b.client.AcceptRide(ctx, bookingID, b.driverID)
	if err != nil {
		return models.RideRecord{}, false, err
	}
	if res.Taken {
		b.remove(bookingID)
		b.log.Info("offer already taken", "booking_id", bookingID)
		return models.RideRecord{}, true, nil
	}
	b.remove(bookingID)
	return res.Ride, false, nil
}

func (b *OfferBoard) remove(bookingID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.offers {
		if o.BookingID == bookingID {
			b.offers = append(b.offers[:i], b.offers[i+1:]...)
			return
		}
	}
}
