// Package orchestrator runs the multi-strategy fetch pipeline: ordered
// fallback across strategies, gate bookkeeping, per-provider
// single-flight coalescing, and the projections the UI reads.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quotabar/quotabar/pkg/credential"
	"github.com/quotabar/quotabar/pkg/gate"
	"github.com/quotabar/quotabar/pkg/notify"
	"github.com/quotabar/quotabar/pkg/provider"
	"github.com/quotabar/quotabar/pkg/store"
)

// providerGates bundles the per-provider breakers. Access cooldown is
// process-wide and lives on the orchestrator itself.
type providerGates struct {
	failure *gate.FailureGate
	refresh *gate.RefreshGate
}

// Orchestrator coordinates refreshes for all providers. It owns every
// side effect of a refresh (gate transitions, projections, events,
// metrics) so the poller and the HTTP API can both just call Refresh.
type Orchestrator struct {
	registry   *provider.Registry
	stateStore store.StateStore
	fp         credential.Fingerprinter
	events     store.EventSink
	access     *gate.CooldownGate
	latest     *LatestProjection
	notifier   *notify.Tracker
	flights    *inflight
	now        func() time.Time

	mu    sync.Mutex
	gates map[provider.ID]*providerGates
}

func New(registry *provider.Registry, st store.StateStore, fp credential.Fingerprinter, events store.EventSink) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		stateStore: st,
		fp:         fp,
		events:     events,
		access:     gate.NewCooldownGate(st),
		latest:     NewLatestProjection(),
		notifier:   notify.NewTracker(),
		flights:    newInflight(),
		now:        time.Now,
		gates:      make(map[provider.ID]*providerGates),
	}
}

// AccessGate exposes the process-wide prompt cooldown so strategies
// that need an interactive secure-storage read can consult it.
func (o *Orchestrator) AccessGate() *gate.CooldownGate {
	return o.access
}

// Latest exposes the last-good-snapshot projection.
func (o *Orchestrator) Latest() *LatestProjection {
	return o.latest
}

// ForceGateRecheck zeroes the fingerprint-recheck throttle for id. The
// credential watcher calls this so a re-login unblocks on the very next
// poll instead of waiting out the throttle window.
func (o *Orchestrator) ForceGateRecheck(id provider.ID) {
	o.gatesFor(id).refresh.ForceRecheck()
}

func (o *Orchestrator) gatesFor(id provider.ID) *providerGates {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.gates[id]
	if !ok {
		g = &providerGates{
			failure: gate.NewFailureGate(),
			refresh: gate.NewRefreshGate(id, o.stateStore, o.fp),
		}
		o.gates[id] = g
	}
	return g
}

// Refresh obtains usage data for (id, mode). Concurrent calls for the
// same provider coalesce onto one execution and share its result.
func (o *Orchestrator) Refresh(ctx context.Context, id provider.ID, mode provider.SourceMode) provider.UsageResult {
	if !id.Valid() {
		return provider.UsageResult{Provider: id, Err: provider.Config(fmt.Errorf("unknown provider %q", id))}
	}
	if !mode.Valid() {
		return provider.UsageResult{Provider: id, Err: provider.Config(fmt.Errorf("unknown source mode %q", mode))}
	}
	return o.flights.do(id, func() provider.UsageResult {
		return o.refresh(ctx, id, mode)
	})
}

func (o *Orchestrator) refresh(ctx context.Context, id provider.ID, mode provider.SourceMode) provider.UsageResult {
	g := o.gatesFor(id)
	now := o.now()

	wasBlocked := g.refresh.Blocked(ctx)
	if !g.refresh.ShouldAttempt(ctx, now) {
		RefreshGateBlocked.WithLabelValues(string(id)).Set(1)
		return provider.UsageResult{
			Provider: id,
			Err:      provider.CredentialInvalid(errors.New("sign-in required")),
		}
	}
	if wasBlocked {
		// ShouldAttempt just observed a credential change.
		RefreshGateBlocked.WithLabelValues(string(id)).Set(0)
		o.emit(ctx, store.EventTypeGateUnblocked, id, map[string]any{"reason": "credential changed"})
	}

	strategies := o.registry.Resolve(id, mode)
	if len(strategies) == 0 {
		return provider.UsageResult{
			Provider: id,
			Err:      provider.Config(fmt.Errorf("no strategy registered for %s in mode %s", id, mode)),
		}
	}

	result := provider.UsageResult{Provider: id}
	var lastErr error

	for _, s := range strategies {
		if !s.IsAvailable(ctx) {
			continue
		}

		start := o.now()
		snap, err := s.Fetch(ctx)
		elapsed := o.now().Sub(start)

		if err == nil {
			result.Attempts = append(result.Attempts, provider.FetchAttempt{
				Strategy: s.Name(),
				Success:  true,
				Duration: elapsed,
			})
			result.Snapshot = snap
			result.Source = s.Name()
			FetchAttemptsTotal.WithLabelValues(string(id), s.Name(), "success").Inc()
			o.recordSuccess(ctx, g, result)
			return result
		}

		// A cancelled refresh commits nothing: gates stay as they were
		// so a shutdown mid-fetch cannot block future attempts.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.Err = err
			return result
		}

		result.Attempts = append(result.Attempts, provider.FetchAttempt{
			Strategy: s.Name(),
			Error:    err.Error(),
			Duration: elapsed,
		})
		FetchAttemptsTotal.WithLabelValues(string(id), s.Name(), "failure").Inc()
		lastErr = err

		switch provider.ClassifyKind(err) {
		case provider.KindCredentialInvalid:
			g.refresh.RecordAuthFailure(ctx, o.now())
			RefreshGateBlocked.WithLabelValues(string(id)).Set(1)
			o.emit(ctx, store.EventTypeGateBlocked, id, map[string]any{"strategy": s.Name(), "error": err.Error()})
		case provider.KindInteractiveDenied:
			o.access.RecordDenied(ctx, o.now())
			o.emit(ctx, store.EventTypeAccessDenied, id, map[string]any{"strategy": s.Name()})
		}

		// Pinned mode never falls back; in auto mode the strategy's own
		// classifier decides whether the next one is worth trying.
		if mode != provider.ModeAuto || !s.ShouldFallback(err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = provider.Fallbackf("no strategy available for %s", id)
	}
	result.Err = lastErr
	o.recordFailure(ctx, g, &result)
	return result
}

func (o *Orchestrator) recordSuccess(ctx context.Context, g *providerGates, result provider.UsageResult) {
	g.failure.RecordSuccess()
	g.refresh.RecordSuccess(ctx)
	RefreshGateBlocked.WithLabelValues(string(result.Provider)).Set(0)
	LastSuccessTimestamp.WithLabelValues(string(result.Provider)).Set(float64(o.now().Unix()))

	o.latest.Update(result)

	for _, w := range result.Snapshot.Windows {
		UsedPercent.WithLabelValues(string(result.Provider), w.Label).Set(w.UsedPercent)
	}

	var remaining *float64
	var resetsAt time.Time
	if w := result.Snapshot.Session(); w != nil {
		r := w.Remaining()
		remaining = &r
		resetsAt = w.ResetsAt
	}
	o.observeTransition(ctx, result.Provider, remaining, resetsAt)

	o.emit(ctx, store.EventTypeUsageObserved, result.Provider, map[string]any{
		"source":   result.Source,
		"windows":  result.Snapshot.Windows,
		"identity": result.Snapshot.Identity,
	})
}

func (o *Orchestrator) recordFailure(ctx context.Context, g *providerGates, result *provider.UsageResult) {
	g.failure.RecordFailure()
	hadPrior := o.latest.Get(result.Provider) != nil
	result.Suppressed = !g.failure.ShouldSurface(hadPrior)

	// A failed poll is a missing reading as far as depletion tracking
	// is concerned.
	o.observeTransition(ctx, result.Provider, nil, time.Time{})

	o.emit(ctx, store.EventTypeFetchFailed, result.Provider, map[string]any{
		"error":      result.Err.Error(),
		"kind":       provider.ClassifyKind(result.Err).String(),
		"attempts":   result.Attempts,
		"suppressed": result.Suppressed,
	})
	log.WithFields(log.Fields{
		"provider":   result.Provider,
		"kind":       provider.ClassifyKind(result.Err),
		"attempts":   len(result.Attempts),
		"suppressed": result.Suppressed,
	}).WithError(result.Err).Debug("refresh failed")
}

func (o *Orchestrator) observeTransition(ctx context.Context, id provider.ID, remaining *float64, resetsAt time.Time) {
	tr := o.notifier.Observe(id, remaining)
	if tr == notify.TransitionNone {
		return
	}

	eventType := store.EventTypeQuotaDepleted
	if tr == notify.TransitionRestored {
		eventType = store.EventTypeQuotaRestored
	}
	payload := map[string]any{"transition": tr.String()}
	if msg, ok := notify.MessageFor(id, tr, resetsAt); ok {
		payload["title"] = msg.Title
		payload["body"] = msg.Body
	}
	o.emit(ctx, eventType, id, payload)
}

func (o *Orchestrator) emit(ctx context.Context, t store.EventType, id provider.ID, payload map[string]any) {
	if o.events == nil {
		return
	}
	data, _ := json.Marshal(payload)
	now := o.now().UTC()
	event := &store.Event{
		EventID:  uuid.NewString(),
		Type:     t,
		Provider: string(id),
		TsEvent:  now,
		TsIngest: now,
		Payload:  data,
	}
	if err := o.events.AppendEvent(ctx, event); err != nil {
		log.WithError(err).WithField("type", t).Warn("failed to append event")
	}
}
