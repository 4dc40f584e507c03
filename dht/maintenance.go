package dht

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opd-ai/mainline/krpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maintenance holds the state carried between maintenance ticks.
type maintenance struct {
	backoff       *backoff.ExponentialBackOff
	nextBootstrap time.Time
	lastDecay     time.Time
}

func (d *DHT) newMaintenance() *maintenance {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.settings.MaintenanceInterval
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Clock = d.clock
	b.Reset()

	now := d.clock.Now()
	return &maintenance{
		backoff:       b,
		nextBootstrap: now,
		lastDecay:     now,
	}
}

// maintenanceLoop runs one maintenance pass per MaintenanceInterval.
func (d *DHT) maintenanceLoop(done <-chan struct{}) {
	ctx, cancel := d.coordinator.Context(context.Background())
	defer cancel()

	m := d.newMaintenance()
	ticker := d.clock.Ticker(d.settings.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.maintain(ctx, m)
		}
	}
}

// sweepLoop times out overdue transactions.
func (d *DHT) sweepLoop(done <-chan struct{}) {
	ticker := d.clock.Ticker(d.settings.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.txns.Sweep()
		}
	}
}

// maintain performs one maintenance pass.
func (d *DHT) maintain(ctx context.Context, m *maintenance) {
	now := d.clock.Now()

	good, total := d.storage.Count()
	d.metrics.observeStorage(good, total)

	if total == 0 {
		d.rebootstrap(ctx, m, now)
	} else {
		m.backoff.Reset()
		d.refreshStaleBucket(ctx)
		d.pingQuestionable(ctx)
	}

	if pruned := d.storage.Prune(d.settings.PruneAfter); pruned > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "maintain",
			"pruned":   pruned,
		}).Debug("Pruned bad nodes")
	}
	if d.tokens.Rotate() {
		logrus.WithFields(logrus.Fields{
			"function": "maintain",
		}).Debug("Rotated token secret")
	}
	if expired := d.peers.Expire(); expired > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "maintain",
			"expired":  expired,
		}).Debug("Expired stored peers")
	}
	if now.Sub(m.lastDecay) >= d.settings.IPDecayInterval {
		d.ipSource.Decay()
		m.lastDecay = now
	}
}

// rebootstrap retries bootstrapping with exponential backoff while the
// routing table is empty.
func (d *DHT) rebootstrap(ctx context.Context, m *maintenance, now time.Time) {
	if now.Before(m.nextBootstrap) {
		return
	}
	wait := m.backoff.NextBackOff()
	m.nextBootstrap = now.Add(wait)

	if err := d.bootstrap(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "rebootstrap",
			"error":      err.Error(),
			"next_retry": wait.String(),
		}).Warn("Bootstrap failed")
	}
}

// refreshStaleBucket refreshes the oldest bucket unchanged for longer
// than RefreshInterval.
func (d *DHT) refreshStaleBucket(ctx context.Context) {
	refresher, ok := d.storage.(BucketRefresher)
	if !ok {
		return
	}
	stale := refresher.StaleBuckets(d.settings.RefreshInterval)
	if len(stale) == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "refreshStaleBucket",
		"target":   stale[0].String(),
		"stale":    len(stale),
	}).Debug("Refreshing bucket")

	if _, err := d.FindNodes(ctx, stale[0]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "refreshStaleBucket",
			"error":    err.Error(),
		}).Debug("Bucket refresh found nothing")
	}
}

// pingQuestionable pings questionable nodes not queried within
// PingInterval, at most Alpha at a time.
func (d *DHT) pingQuestionable(ctx context.Context) {
	now := d.clock.Now()

	var g errgroup.Group
	g.SetLimit(d.settings.Alpha)
	for _, n := range d.storage.All() {
		if n.Status(now, d.settings.NodeFreshness, d.settings.MaxNodeFailures) != StatusQuestionable {
			continue
		}
		if now.Sub(n.LastSent) < d.settings.PingInterval {
			continue
		}
		info := n.NodeInfo
		g.Go(func() error {
			_, _ = d.query(ctx, info, krpc.MethodPing, krpc.Args{})
			return nil
		})
	}
	_ = g.Wait()
}
