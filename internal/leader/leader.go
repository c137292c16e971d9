// Package leader implements single-writer election across indexer
// processes sharing one catalog, grounded on indexer/src/lib.rs's
// `primary_check`.
package leader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/log"
	"github.com/barreleye/barreleye/internal/metrics"
)

const (
	// HeartbeatInterval is how often a process re-checks and renews its
	// claim on the primary Config key.
	HeartbeatInterval = 2 * time.Second
	// PromotionTimeout is how stale the primary marker must be before a
	// standby attempts to take over.
	PromotionTimeout = 20 * time.Second
	// cooldown is half the promotion timeout: a sitting primary renews its
	// claim only while the marker is younger than this, mirroring
	// `ago_in_seconds(PROMOTION_TIMEOUT / 2)`; once the marker is older, it
	// stands down until the marker passes PromotionTimeout.
	cooldown = PromotionTimeout / 2
)

// primaryMarker is the JSON value stored at the `primary` Config key.
type primaryMarker struct {
	UUID string `json:"uuid"`
}

// Leader runs the primary/standby election loop for one process identity.
type Leader struct {
	catalog catalog.Catalog
	id      uuid.UUID

	mu       sync.RWMutex
	isLeader bool
}

func New(cat catalog.Catalog) *Leader {
	return &Leader{catalog: cat, id: uuid.New()}
}

// IsLeading reports whether this process currently holds the primary
// claim. Callers (the scheduler's Sync/Process loops) gate their work on
// this so only one process indexes a given catalog at a time.
func (l *Leader) IsLeading() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

func (l *Leader) setLeading(v bool) {
	l.mu.Lock()
	l.isLeader = v
	l.mu.Unlock()

	if v {
		metrics.LeaderIsLeading.Set(1)
	} else {
		metrics.LeaderIsLeading.Set(0)
	}
}

// Run repeats the check on HeartbeatInterval until ctx is cancelled,
// mirroring `primary_check`'s `loop { ...; sleep(HEARTBEAT).await }`.
func (l *Leader) Run(ctx context.Context) error {
	logger := log.WithComponent("leader")

	for {
		if err := l.check(); err != nil {
			logger.Error().Err(err).Msg("leader check failed")
		}
		metrics.LeaderHeartbeatsTotal.Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(HeartbeatInterval):
		}
	}
}

// check ports primary_check's match arms exactly:
//   - no marker yet: claim it outright (first run ever).
//   - we are already primary and the marker isn't stale: renew via CAS,
//     only actually becoming "leading" once the CAS wins the race against
//     a concurrent challenger.
//   - the marker is older than PromotionTimeout: attempt to take over via
//     CAS (the win, if any, only takes visible effect on the *next* tick,
//     matching the reference's "set is_primary on the next iteration").
//   - otherwise: stand down.
func (l *Leader) check() error {
	key := catalog.KeyPrimaryKey()

	var current primaryMarker
	existing, err := l.catalog.ConfigGet(key, &current)
	if err != nil {
		return err
	}

	if existing == nil {
		if err := l.catalog.ConfigSet(key, primaryMarker{UUID: l.id.String()}); err != nil {
			return err
		}
		l.setLeading(true)
		return nil
	}

	age := time.Since(existing.UpdatedAt)
	mine := current.UUID == l.id.String()

	switch {
	case mine && age < cooldown:
		won, err := l.catalog.ConfigSetWhere(key, primaryMarker{UUID: l.id.String()}, current, existing.UpdatedAt)
		if err != nil {
			return err
		}
		l.setLeading(won)

	case age > PromotionTimeout:
		if _, err := l.catalog.ConfigSetWhere(key, primaryMarker{UUID: l.id.String()}, current, existing.UpdatedAt); err != nil {
			return err
		}
		l.setLeading(false)

	default:
		l.setLeading(false)
	}

	return nil
}
