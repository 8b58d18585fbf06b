package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/studyforge/studyforge/config"
	"github.com/studyforge/studyforge/internal/store"
)

// Cleaner deletes runs older than the configured retention window on a cron
// cadence. A redis lock keeps replicas from sweeping at the same time.
type Cleaner struct {
	Store  *store.Store
	Cache  *store.BundleCache
	Cfg    config.RetentionConfig
	Stop   chan struct{}
	Logger *log.Logger

	lastSweep *time.Time
}

func (cl *Cleaner) Start() {
	if !cl.Cfg.Enabled {
		return
	}
	go cl.loop(time.NewTicker(1 * time.Hour))
}

// loop sweeps on each tick and returns once Stop is closed.
func (cl *Cleaner) loop(ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-cl.Stop:
			return
		case <-ticker.C:
			cl.tick()
		}
	}
}

func (cl *Cleaner) tick() {
	if !isDue(cl.Cfg.CronSpec, cl.lastSweep) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// distributed lock to avoid duplicate sweeps
	const lockKey = "retention:lock"
	if ok, err := cl.Cache.Lock(ctx, lockKey, 2*time.Minute); err == nil && !ok {
		return
	}
	defer cl.Cache.Unlock(ctx, lockKey)

	maxAge := cl.Cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge)
	deleted, err := cl.Store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		cl.Logger.Printf("retention sweep failed: %v", err)
		return
	}
	now := time.Now()
	cl.lastSweep = &now
	if deleted > 0 {
		cl.Logger.Printf("retention sweep removed %d runs older than %s", deleted, cutoff.Format(time.RFC3339))
	}
}

// isDue determines whether a sweep with cronSpec should run now based on the
// last sweep time. Supports "@daily", "@hourly", and 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
