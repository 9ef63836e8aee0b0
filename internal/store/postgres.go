package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-client/internal/models"
)

// PostgresArchive writes terminal rides to a trips table.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) Archive(ctx context.Context, r models.RideRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trips(booking_id, customer_id, driver_id, pickup_lat, pickup_lng, drop_lat, drop_lng, vehicle_class, fare, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (booking_id) DO UPDATE SET status=EXCLUDED.status, fare=EXCLUDED.fare, updated_at=EXCLUDED.updated_at`,
		r.BookingID, r.CustomerID, r.DriverID,
		r.Pickup.Lat, r.Pickup.Lng, r.Drop.Lat, r.Drop.Lng,
		string(r.VehicleClass), r.Fare, string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: archive trip %s: %w", r.BookingID, err)
	}
	return nil
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
