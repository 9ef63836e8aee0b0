// Package backend is the client for the ride/driver REST collaborator. The
// backend is the authority for booking ids and final ride status; this
// client only shapes requests and decodes responses.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-client/internal/models"
)

// ErrRejected marks a definitive backend refusal of a ride action (for
// example, the booking was already cancelled server-side). Distinct from
// transient transport or server failures, which are plain errors.
var ErrRejected = errors.New("rejected by backend")

// Client calls the ride/driver backend over HTTP.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// AcceptResult is the outcome of a driver accept attempt. Taken means
// another driver won the race; that is an expected negative outcome the
// caller branches on, not an error.
type AcceptResult struct {
	Taken bool
	Ride  models.RideRecord
}

// RequestRide submits a draft and returns the confirmed record with the
// server-assigned booking id.
func (c *Client) RequestRide(ctx context.Context, draft models.RideRecord) (models.RideRecord, error) {
	var out models.RideRecord
	err := c.do(ctx, http.MethodPost, "/api/v1/rides", draft, &out)
	if err != nil {
		return models.RideRecord{}, fmt.Errorf("request ride: %w", err)
	}
	if out.BookingID == "" {
		return models.RideRecord{}, fmt.Errorf("request ride: backend returned no booking id")
	}
	return out, nil
}

// AcceptRide races for an open offer on behalf of a driver. A conflict from
// the backend maps to AcceptResult.Taken.
func (c *Client) AcceptRide(ctx context.Context, bookingID, driverID string) (AcceptResult, error) {
	body := map[string]string{"driver_id": driverID}
	path := "/api/v1/rides/" + bookingID + "/accept"

	resp, err := c.roundTrip(ctx, http.MethodPost, path, body)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept ride: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return AcceptResult{Taken: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AcceptResult{}, fmt.Errorf("accept ride: backend status %d", resp.StatusCode)
	}
	var ride models.RideRecord
	if err := json.NewDecoder(resp.Body).Decode(&ride); err != nil {
		return AcceptResult{}, fmt.Errorf("accept ride: decode: %w", err)
	}
	return AcceptResult{Ride: ride}, nil
}

func (c *Client) StartRide(ctx context.Context, bookingID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rides/"+bookingID+"/start", nil, nil)
}

func (c *Client) CompleteRide(ctx context.Context, bookingID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rides/"+bookingID+"/complete", nil, nil)
}

func (c *Client) CancelRide(ctx context.Context, bookingID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rides/"+bookingID+"/cancel", nil, nil)
}

// AvailableRides fetches the open offers visible to a driver. The caller
// merges successive polls; this just returns one snapshot.
func (c *Client) AvailableRides(ctx context.Context, driverID string) ([]models.RideOffer, error) {
	var out []models.RideOffer
	if err := c.do(ctx, http.MethodGet, "/api/v1/rides/available?driver_id="+driverID, nil, &out); err != nil {
		return nil, fmt.Errorf("available rides: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.roundTrip(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(b))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("backend status %d: %s: %w", resp.StatusCode, msg, ErrRejected)
		}
		return fmt.Errorf("backend status %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return c.http.Do(req)
}
