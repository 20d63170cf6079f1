package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Pinger adapts *sqlx.DB to serving.HealthProbe.
type Pinger struct {
	db *sqlx.DB
}

// NewPinger wraps db for use as a health probe.
func NewPinger(db *sqlx.DB) Pinger {
	return Pinger{db: db}
}

// Ping round-trips the connection pool.
func (p Pinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
