package admin

import "context"

type StatsRepository interface {
	Stats(ctx context.Context) (*Stats, error)
}
