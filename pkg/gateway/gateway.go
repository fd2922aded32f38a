// Package gateway is the single chokepoint for external data access. Every
// read a run consumes goes through Request, which enforces the leakage
// guard's temporal isolation, wraps upstream fetchers in per-source circuit
// breakers, appends an audit manifest entry for every request, and keeps
// per-run guard statistics for the evidence pack.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/manyworlds/continuum/pkg/canonical"
	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
)

// Temporal isolation levels. Higher levels trade data availability for
// stronger leakage guarantees.
const (
	// IsolationWarn scans for records beyond the cutoff but lets them
	// through, logging and flagging the leak.
	IsolationWarn = 1
	// IsolationFilter drops records beyond the cutoff and any record whose
	// timestamp cannot be established.
	IsolationFilter = 2
	// IsolationStrict fails the whole request when even one record would
	// have to be dropped.
	IsolationStrict = 3
)

// Temporal modes for a gateway context.
const (
	TemporalModeLive     = "live"
	TemporalModeBacktest = "backtest"
)

// RequestContext scopes one gateway request to a tenant, optionally a
// project and run, and fixes the temporal isolation contract.
type RequestContext struct {
	TenantID       uuid.UUID
	ProjectID      *uuid.UUID
	RunID          *uuid.UUID
	CutoffTime     *time.Time
	IsolationLevel int
	TemporalMode   string
}

// Response is the result of one gateway request.
type Response struct {
	Data            []map[string]any
	RecordCount     int
	FilteredCount   int
	PayloadHash     string
	ManifestEntryID int64
	CacheHit        bool
}

// Fetcher retrieves raw records from an upstream source. The gateway owns
// timeouts and breaker state; fetchers just fetch.
type Fetcher func(ctx context.Context, endpoint string, params map[string]any) ([]map[string]any, error)

// SourceBlockedError reports that the leakage guard (or an open breaker)
// refused a source. The run executor decides whether a block degrades to
// an empty payload or fails the run.
type SourceBlockedError struct {
	Source string
	Reason string
}

func (e *SourceBlockedError) Error() string {
	return fmt.Sprintf("source %q blocked: %s", e.Source, e.Reason)
}

// Kind maps the error to its run error kind.
func (e *SourceBlockedError) Kind() models.ErrorKind {
	return models.ErrorKindSourceBlocked
}

// ManifestSink receives the append-only audit trail. *store.ManifestStore
// satisfies it.
type ManifestSink interface {
	Append(ctx context.Context, e *models.ManifestEntry) error
}

// Gateway mediates all external reads.
type Gateway struct {
	sources  *config.DataSourceRegistry
	cfg      *config.GatewayConfig
	manifest ManifestSink
	cache    *payloadCache
	log      *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	fields   map[string]*fieldQuery
	global   guardStats
	perRun   map[uuid.UUID]*guardStats
}

// guardStats accumulates leakage-guard activity for one scope.
type guardStats struct {
	totalRequests   int
	blockedAttempts int
	blockedSources  map[string]struct{}
	recordsFiltered int
	leakageDetected bool
}

func (s *guardStats) snapshot() models.LeakageGuardStats {
	out := models.LeakageGuardStats{
		TotalRequests:         s.totalRequests,
		BlockedAccessAttempts: s.blockedAttempts,
		RecordsFiltered:       s.recordsFiltered,
		LeakageDetected:       s.leakageDetected,
	}
	for name := range s.blockedSources {
		out.BlockedSources = append(out.BlockedSources, name)
	}
	sort.Strings(out.BlockedSources)
	return out
}

// New builds a gateway over the registered sources. A nil cfg uses the
// defaults; the Redis payload cache is only dialed when enabled.
func New(sources *config.DataSourceRegistry, cfg *config.GatewayConfig, manifest ManifestSink, logger *slog.Logger) *Gateway {
	if cfg == nil {
		cfg = config.DefaultGatewayConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		sources:  sources,
		cfg:      cfg,
		manifest: manifest,
		log:      logger.With("component", "gateway"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		fields:   make(map[string]*fieldQuery),
		perRun:   make(map[uuid.UUID]*guardStats),
	}
	g.global.blockedSources = make(map[string]struct{})
	if cfg.CacheEnabled && cfg.RedisAddr != "" {
		g.cache = newPayloadCache(cfg.RedisAddr, cfg.CacheTTL, g.log)
	}
	return g
}

// Request fetches records from a named source under the guard contract.
// Exactly one manifest entry is appended per call, blocked or not.
func (g *Gateway) Request(ctx context.Context, sourceName, endpoint string, params map[string]any, gctx RequestContext, fetch Fetcher, timestampField string) (*Response, error) {
	if gctx.IsolationLevel < IsolationWarn || gctx.IsolationLevel > IsolationStrict {
		return nil, models.NewValidationError("isolation_level",
			fmt.Sprintf("must be between %d and %d, got %d", IsolationWarn, IsolationStrict, gctx.IsolationLevel))
	}
	g.countRequest(gctx)

	src, err := g.sources.Get(sourceName)
	if err != nil {
		return nil, g.block(ctx, sourceName, endpoint, params, gctx, 0, "not registered")
	}
	if !src.Enabled {
		return nil, g.block(ctx, sourceName, endpoint, params, gctx, 0, "disabled")
	}
	if timestampField == "" {
		timestampField = src.TimestampField
	}

	if timestampField == "" {
		switch gctx.IsolationLevel {
		case IsolationWarn:
			g.log.Warn("source has no temporal metadata, records cannot be checked against the cutoff",
				"source", sourceName,
				"isolation_level", gctx.IsolationLevel)
		default:
			return nil, g.block(ctx, sourceName, endpoint, params, gctx, 0, "no temporal metadata")
		}
	}
	if src.EarliestAvailableAt != nil && gctx.CutoffTime != nil && src.EarliestAvailableAt.After(*gctx.CutoffTime) {
		return nil, g.block(ctx, sourceName, endpoint, params, gctx, 0, "not yet available at cutoff")
	}

	if g.cache != nil {
		if hit, ok := g.cache.get(ctx, g.cacheKey(sourceName, endpoint, params, gctx)); ok {
			g.countFiltered(gctx, hit.FilteredCount)
			if hit.Leaked {
				g.flagLeakage(gctx)
			}
			entryID, err := g.appendManifest(ctx, sourceName, endpoint, params, gctx, hit.PayloadHash, hit.RecordCount, hit.FilteredCount)
			if err != nil {
				return nil, err
			}
			return &Response{
				Data:            hit.Data,
				RecordCount:     hit.RecordCount,
				FilteredCount:   hit.FilteredCount,
				PayloadHash:     hit.PayloadHash,
				ManifestEntryID: entryID,
				CacheHit:        true,
			}, nil
		}
	}

	records, err := g.fetch(ctx, src, sourceName, endpoint, params, fetch)
	if err != nil {
		var blocked *SourceBlockedError
		if errors.As(err, &blocked) {
			return nil, g.block(ctx, sourceName, endpoint, params, gctx, 0, blocked.Reason)
		}
		return nil, err
	}

	kept, dropped, leaked, err := g.applyGuard(sourceName, timestampField, records, gctx)
	if err != nil {
		var future *FutureDataAccessError
		if errors.As(err, &future) {
			g.flagLeakage(gctx)
			if blockErr := g.block(ctx, sourceName, endpoint, params, gctx, dropped, future.Reason); blockErr != nil {
				var blocked *SourceBlockedError
				if !errors.As(blockErr, &blocked) {
					return nil, blockErr
				}
			}
			// The blocked-source bookkeeping ran; surface the precise kind.
			return nil, future
		}
		return nil, err
	}
	g.countFiltered(gctx, dropped)
	if leaked {
		g.flagLeakage(gctx)
	}

	payloadHash, err := canonical.Hash(kept)
	if err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}

	entryID, err := g.appendManifest(ctx, sourceName, endpoint, params, gctx, payloadHash, len(kept), dropped)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		g.cache.put(ctx, g.cacheKey(sourceName, endpoint, params, gctx), &cachedPayload{
			Data:          kept,
			PayloadHash:   payloadHash,
			RecordCount:   len(kept),
			FilteredCount: dropped,
			Leaked:        leaked,
		})
	}

	return &Response{
		Data:            kept,
		RecordCount:     len(kept),
		FilteredCount:   dropped,
		PayloadHash:     payloadHash,
		ManifestEntryID: entryID,
	}, nil
}

// fetch runs the upstream call through the source's circuit breaker with
// the configured timeout. An open breaker surfaces as a blocked source.
func (g *Gateway) fetch(ctx context.Context, src *config.DataSourceConfig, sourceName, endpoint string, params map[string]any, fetch Fetcher) ([]map[string]any, error) {
	if fetch == nil {
		return nil, models.NewValidationError("data_fetcher", "is required")
	}
	timeout := src.RequestTimeout
	if timeout <= 0 {
		timeout = g.cfg.FetchTimeout
	}

	out, err := g.breaker(sourceName).Execute(func() (any, error) {
		fctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fetch(fctx, endpoint, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &SourceBlockedError{Source: sourceName, Reason: "circuit breaker open"}
		}
		return nil, fmt.Errorf("failed to fetch from source %q: %w", sourceName, err)
	}
	records, _ := out.([]map[string]any)
	return records, nil
}

func (g *Gateway) breaker(sourceName string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if br, ok := g.breakers[sourceName]; ok {
		return br
	}
	maxFailures := g.cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        sourceName,
		MaxRequests: 1,
		Timeout:     g.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("source circuit breaker state changed",
				"source", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	g.breakers[sourceName] = br
	return br
}

// block records a refused request in the stats and manifest and returns
// the SourceBlockedError for the caller.
func (g *Gateway) block(ctx context.Context, sourceName, endpoint string, params map[string]any, gctx RequestContext, dropped int, reason string) error {
	g.mu.Lock()
	for _, s := range g.statsFor(gctx) {
		s.blockedAttempts++
		s.blockedSources[sourceName] = struct{}{}
	}
	g.mu.Unlock()

	g.log.Warn("blocked source access",
		"source", sourceName,
		"endpoint", endpoint,
		"reason", reason,
		"isolation_level", gctx.IsolationLevel)

	if _, err := g.appendManifest(ctx, sourceName, endpoint, params, gctx, "", 0, dropped); err != nil {
		return err
	}
	return &SourceBlockedError{Source: sourceName, Reason: reason}
}

// appendManifest writes the audit entry for one request. Parameters are
// redacted before they leave the process; failing the audit trail fails
// the request.
func (g *Gateway) appendManifest(ctx context.Context, sourceName, endpoint string, params map[string]any, gctx RequestContext, payloadHash string, recordCount, blockedCount int) (int64, error) {
	if g.manifest == nil {
		return 0, nil
	}
	entry := &models.ManifestEntry{
		TenantID:     gctx.TenantID,
		RunID:        gctx.RunID,
		SourceName:   sourceName,
		Endpoint:     endpoint,
		Params:       RedactParams(params),
		CutoffTime:   gctx.CutoffTime,
		PayloadHash:  payloadHash,
		RecordCount:  recordCount,
		BlockedCount: blockedCount,
		CapturedAt:   time.Now().UTC(),
	}
	if err := g.manifest.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("failed to append manifest entry: %w", err)
	}
	return entry.ID, nil
}

func (g *Gateway) cacheKey(sourceName, endpoint string, params map[string]any, gctx RequestContext) string {
	key := map[string]any{
		"source":    sourceName,
		"endpoint":  endpoint,
		"params":    params,
		"isolation": gctx.IsolationLevel,
	}
	if gctx.CutoffTime != nil {
		key["cutoff"] = gctx.CutoffTime.UTC().Format(time.RFC3339Nano)
	}
	hash, err := canonical.Hash(key)
	if err != nil {
		// Unhashable params: fall back to a key that can never collide
		// with a real one, effectively disabling the cache for this call.
		return "gateway:payload:uncacheable:" + uuid.NewString()
	}
	return "gateway:payload:" + hash
}

// statsFor returns the scopes a request updates: always the global scope,
// plus the per-run scope when the context carries a run. Callers hold mu.
func (g *Gateway) statsFor(gctx RequestContext) []*guardStats {
	scopes := []*guardStats{&g.global}
	if gctx.RunID == nil {
		return scopes
	}
	rs, ok := g.perRun[*gctx.RunID]
	if !ok {
		rs = &guardStats{blockedSources: make(map[string]struct{})}
		g.perRun[*gctx.RunID] = rs
	}
	return append(scopes, rs)
}

func (g *Gateway) countRequest(gctx RequestContext) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.statsFor(gctx) {
		s.totalRequests++
	}
}

// countFiltered records guard-discarded records. Every dropped record is
// also a blocked access attempt: a read the guard refused to serve.
func (g *Gateway) countFiltered(gctx RequestContext, dropped int) {
	if dropped == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.statsFor(gctx) {
		s.recordsFiltered += dropped
		s.blockedAttempts += dropped
	}
}

func (g *Gateway) flagLeakage(gctx RequestContext) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.statsFor(gctx) {
		s.leakageDetected = true
	}
}

// Stats snapshots the gateway-wide guard statistics.
func (g *Gateway) Stats() models.LeakageGuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.global.snapshot()
}

// RunStats snapshots one run's guard statistics without releasing them.
func (g *Gateway) RunStats(runID uuid.UUID) models.LeakageGuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rs, ok := g.perRun[runID]; ok {
		return rs.snapshot()
	}
	return models.LeakageGuardStats{}
}

// ReleaseRun returns a run's final guard statistics and frees its scope.
// The executor calls this once when the run reaches a terminal status.
func (g *Gateway) ReleaseRun(runID uuid.UUID) models.LeakageGuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs, ok := g.perRun[runID]
	if !ok {
		return models.LeakageGuardStats{}
	}
	delete(g.perRun, runID)
	return rs.snapshot()
}

// Close releases the cache connection, if any.
func (g *Gateway) Close() error {
	if g.cache != nil {
		return g.cache.close()
	}
	return nil
}
