package admin

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/db"
)

type statsRepoPG struct{ pool *pgxpool.Pool }

func NewStatsRepoPG(pool *pgxpool.Pool) StatsRepository {
	return &statsRepoPG{pool: pool}
}

func (r *statsRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *statsRepoPG) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM appointments),
			(SELECT COUNT(*) FROM appointments WHERE status = 'pending'),
			(SELECT COUNT(*) FROM appointments WHERE status = 'completed'),
			(SELECT COUNT(*) FROM treatments),
			(SELECT COALESCE(SUM(amount), 0)::float8 FROM payments WHERE status = 'completed'),
			(SELECT COUNT(*) FROM prescriptions WHERE status = 'active'),
			(SELECT COUNT(*) FROM waitlist WHERE status = 'waiting')`,
	).Scan(&s.TotalUsers, &s.TotalAppointments, &s.PendingAppointments, &s.CompletedAppointments,
		&s.TotalTreatments, &s.TotalRevenue, &s.ActivePrescriptions, &s.WaitingWaitlistEntries)
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	return &s, nil
}
