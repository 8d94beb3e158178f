package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer terminates random server backends of the current database so the
// pool has to reconnect and the fallback chain sees transient failures.
type Killer struct {
	pool     *pgxpool.Pool
	interval time.Duration
	odds     int
	killed   atomic.Int64
}

func NewKiller(pool *pgxpool.Pool, interval time.Duration, odds int) *Killer {
	if odds <= 0 {
		odds = 5
	}
	return &Killer{pool: pool, interval: interval, odds: odds}
}

// Run fires on every tick with a 1-in-odds chance until ctx or stop ends it.
func (k *Killer) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(k.odds) != 0 {
				continue
			}
			tag, err := k.pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
                WHERE datname = current_database() AND pid <> pg_backend_pid() AND backend_type = 'client backend'
                ORDER BY random() LIMIT 1`)
			if err == nil {
				k.killed.Add(tag.RowsAffected())
			}
		}
	}
}

// Killed returns how many backends were terminated so far.
func (k *Killer) Killed() int64 {
	return k.killed.Load()
}
