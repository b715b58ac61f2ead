package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

type ResolverConfig struct {
	BatchSize       int
	ResolveInterval time.Duration
	RequestTimeout  time.Duration
	// RetryInterval is the minimum gap between two lookups of the same
	// unresolved address. Zero retries on every drain.
	RetryInterval time.Duration
	// IdentityTTL expires cached identities. Zero keeps them forever.
	IdentityTTL      time.Duration
	RateLimitBackoff time.Duration
	EnrichIdentities bool
}

// Resolver maps addresses to social identities. An address is only linked when
// the source reports exactly one candidate; lookups by social ID are trusted
// and may re-point addresses.
type Resolver struct {
	cfg      ResolverConfig
	source   domain.IdentitySource
	clock    domain.Clock
	logger   *logger.Logger
	group    singleflight.Group
	attempts *ttlcache.Cache[domain.Address, time.Time]
	draining atomic.Bool

	mu            sync.RWMutex
	byAddress     map[domain.Address]string
	identities    map[string]*cachedIdentity
	pending       map[domain.Address]struct{}
	cooldownUntil time.Time
	lastError     string
	// ambiguous holds addresses an address lookup matched to several
	// identities. Enrichment never links them.
	ambiguous map[domain.Address]struct{}
}

type cachedIdentity struct {
	identity  domain.Identity
	linked    map[domain.Address]struct{}
	expiresAt time.Time
}

func (c *cachedIdentity) snapshot() domain.Identity {
	out := c.identity.Clone()
	out.LinkedAddresses = make([]domain.Address, 0, len(c.linked))
	for a := range c.linked {
		out.LinkedAddresses = append(out.LinkedAddresses, a)
	}
	sort.Slice(out.LinkedAddresses, func(i, j int) bool {
		return out.LinkedAddresses[i] < out.LinkedAddresses[j]
	})
	return out
}

func NewResolver(cfg ResolverConfig, source domain.IdentitySource, clock domain.Clock, log *logger.Logger) *Resolver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	r := &Resolver{
		cfg:        cfg,
		source:     source,
		clock:      clock,
		logger:     log.Named("resolver"),
		byAddress:  make(map[domain.Address]string),
		identities: make(map[string]*cachedIdentity),
		pending:    make(map[domain.Address]struct{}),
		ambiguous:  make(map[domain.Address]struct{}),
	}

	if cfg.RetryInterval > 0 {
		r.attempts = ttlcache.New[domain.Address, time.Time](
			ttlcache.WithTTL[domain.Address, time.Time](cfg.RetryInterval),
			ttlcache.WithDisableTouchOnHit[domain.Address, time.Time](),
		)
	}

	return r
}

// Run drains the unresolved queue on every resolve interval until ctx ends.
func (r *Resolver) Run(ctx context.Context) error {
	interval := r.cfg.ResolveInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if r.attempts != nil {
		go r.attempts.Start()
		defer r.attempts.Stop()
	}

	r.logger.Infow("Resolver started", "interval", interval, "batchSize", r.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Resolver stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil {
				r.logger.Warnw("Identity drain failed", "error", err)
			}
		}
	}
}

// Enqueue queues an address for resolution. It reports false when the address
// is already resolved or already queued.
func (r *Resolver) Enqueue(addr domain.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lookupLocked(addr, r.clock.Now()); ok {
		return false
	}
	if _, queued := r.pending[addr]; queued {
		return false
	}
	r.pending[addr] = struct{}{}
	metrics.UnresolvedQueueSize.Set(float64(len(r.pending)))
	return true
}

// Drain resolves up to one batch of queued addresses whose retry gate has
// expired. Addresses that stay unresolved go back to the queue.
func (r *Resolver) Drain(ctx context.Context) (int, error) {
	if !r.draining.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.draining.Store(false)

	now := r.clock.Now()
	batch := r.takeBatch(now)
	if len(batch) == 0 {
		return 0, nil
	}

	linked, fresh, err := r.resolveBatch(ctx, batch)
	if err != nil {
		r.requeue(batch, false)
		r.recordFailure(err)
		return 0, err
	}

	r.requeue(batch, true)
	r.clearFailure()

	if r.cfg.EnrichIdentities {
		r.enrich(ctx, fresh)
	}

	r.logger.Infow("Drained identity queue", "requested", len(batch), "linked", linked, "newIdentities", len(fresh))
	return linked, nil
}

// ResolveByAddresses looks addresses up in batches of BatchSize. Ambiguous or
// unmatched addresses are left unresolved and are not cached.
func (r *Resolver) ResolveByAddresses(ctx context.Context, addresses []domain.Address) (int, error) {
	linked := 0
	for start := 0; start < len(addresses); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(addresses) {
			end = len(addresses)
		}

		n, _, err := r.resolveBatch(ctx, addresses[start:end])
		linked += n
		if err != nil {
			return linked, err
		}
	}
	return linked, nil
}

// ResolveBySocialID fetches the authoritative record for id and links every
// address it claims. Concurrent calls for one id share a single request.
func (r *Resolver) ResolveBySocialID(ctx context.Context, id int64) (domain.Identity, error) {
	return r.fetchSocialID(ctx, id, "id:", r.storeAuthoritative)
}

// fetchSocialID loads the record for id and hands it to store under r.mu.
// Calls sharing flight and id share one request.
func (r *Resolver) fetchSocialID(
	ctx context.Context,
	id int64,
	flight string,
	store func(domain.Identity, time.Time) domain.Identity,
) (domain.Identity, error) {
	v, err, _ := r.group.Do(flight+strconv.FormatInt(id, 10), func() (interface{}, error) {
		callCtx, cancel := r.callContext(ctx)
		defer cancel()

		identity, err := r.source.ResolveSocialID(callCtx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		return store(identity, r.clock.Now()), nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolve social id %d: %w", id, err)
	}
	return v.(domain.Identity), nil
}

func (r *Resolver) Lookup(addr domain.Address) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.lookupLocked(addr, r.clock.Now())
	if !ok {
		return domain.Identity{}, false
	}
	return entry.snapshot(), true
}

func (r *Resolver) Identity(key string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.identities[key]
	if !ok || r.expired(entry, r.clock.Now()) {
		return domain.Identity{}, false
	}
	return entry.snapshot(), true
}

func (r *Resolver) LookupSocialID(id int64) (domain.Identity, bool) {
	return r.Identity(fmt.Sprintf("id:%d", id))
}

func (r *Resolver) Pending() []domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedAddresses(r.pending)
}

func (r *Resolver) Status() domain.ResolverStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := domain.ResolverStatus{
		Pending:         len(r.pending),
		Identities:      len(r.identities),
		LinkedAddresses: len(r.byAddress),
		Healthy:         r.lastError == "",
		LastError:       r.lastError,
	}
	if !r.cooldownUntil.IsZero() {
		until := r.cooldownUntil
		status.CooldownUntil = &until
	}
	return status
}

func (r *Resolver) resolveBatch(ctx context.Context, batch []domain.Address) (int, []int64, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	result, err := r.source.ResolveAddresses(callCtx, batch)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve %d addresses: %w", len(batch), err)
	}

	now := r.clock.Now()
	linked, ambiguous, unmatched := 0, 0, 0
	var fresh []int64

	r.mu.Lock()
	for _, addr := range batch {
		candidates := distinctCandidates(result[addr])
		switch len(candidates) {
		case 0:
			unmatched++
		case 1:
			if r.link(addr, candidates[0], now) && candidates[0].SocialID != nil {
				fresh = append(fresh, *candidates[0].SocialID)
			}
			linked++
		default:
			ambiguous++
			r.ambiguous[addr] = struct{}{}
			r.logger.Debugw("Ambiguous address left unresolved", "address", addr, "candidates", len(candidates))
		}
	}
	metrics.UnresolvedQueueSize.Set(float64(len(r.pending)))
	r.mu.Unlock()

	metrics.RecordResolution(metrics.OutcomeResolved, linked)
	metrics.RecordResolution(metrics.OutcomeAmbiguous, ambiguous)
	metrics.RecordResolution(metrics.OutcomeUnmatched, unmatched)

	return linked, fresh, nil
}

// link attaches addr to the candidate identity and reports whether the
// identity was not cached before. Caller holds r.mu.
func (r *Resolver) link(addr domain.Address, candidate domain.Identity, now time.Time) bool {
	key := candidate.Key()
	entry, exists := r.live(key, now)
	if !exists {
		entry = r.create(key)
		entry.identity = candidate.Clone()
		entry.identity.LinkedAddresses = nil
	}
	r.touch(entry, now)
	r.assign(addr, key)
	delete(r.ambiguous, addr)
	return !exists
}

// storeAuthoritative overwrites the cached profile with a record fetched by
// social ID and links all of its addresses. Caller holds r.mu.
func (r *Resolver) storeAuthoritative(identity domain.Identity, now time.Time) domain.Identity {
	key := identity.Key()
	entry, ok := r.live(key, now)
	if !ok {
		entry = r.create(key)
	}

	entry.identity = identity.Clone()
	entry.identity.LinkedAddresses = nil
	r.touch(entry, now)

	for _, addr := range identity.Addresses() {
		r.assign(addr, key)
	}
	metrics.UnresolvedQueueSize.Set(float64(len(r.pending)))

	return entry.snapshot()
}

// storeEnriched refreshes the profile of an identity found by address and
// adds its primary wallet. The wallet is skipped when an address lookup found
// it ambiguous or it already belongs to another live identity. Caller holds r.mu.
func (r *Resolver) storeEnriched(identity domain.Identity, now time.Time) domain.Identity {
	key := identity.Key()
	entry, ok := r.live(key, now)
	if !ok {
		entry = r.create(key)
	}

	entry.identity = identity.Clone()
	entry.identity.LinkedAddresses = nil
	r.touch(entry, now)

	if primary := identity.PrimaryWalletAddress; primary != nil {
		_, ambiguous := r.ambiguous[*primary]
		owner, owned := r.lookupLocked(*primary, now)
		switch {
		case ambiguous:
			r.logger.Debugw("Primary wallet is ambiguous, not linking", "address", *primary, "identity", key)
		case owned && owner != entry:
			r.logger.Debugw("Primary wallet belongs to another identity, not linking", "address", *primary, "identity", key)
		default:
			r.assign(*primary, key)
		}
	}
	metrics.UnresolvedQueueSize.Set(float64(len(r.pending)))

	return entry.snapshot()
}

// live returns the cached entry for key. An expired entry is evicted together
// with its address links. Caller holds r.mu.
func (r *Resolver) live(key string, now time.Time) (*cachedIdentity, bool) {
	entry, ok := r.identities[key]
	if !ok {
		return nil, false
	}
	if r.expired(entry, now) {
		r.evict(key, entry)
		return nil, false
	}
	return entry, true
}

func (r *Resolver) create(key string) *cachedIdentity {
	entry := &cachedIdentity{linked: make(map[domain.Address]struct{})}
	r.identities[key] = entry
	return entry
}

// evict drops an identity and every address still pointing at it. Caller holds r.mu.
func (r *Resolver) evict(key string, entry *cachedIdentity) {
	for addr := range entry.linked {
		if r.byAddress[addr] == key {
			delete(r.byAddress, addr)
		}
	}
	delete(r.identities, key)
}

// assign points addr at key, detaching it from any previous identity so an
// address never belongs to two records. Caller holds r.mu.
func (r *Resolver) assign(addr domain.Address, key string) {
	if prev, ok := r.byAddress[addr]; ok && prev != key {
		if old, ok := r.identities[prev]; ok {
			delete(old.linked, addr)
		}
	}
	r.byAddress[addr] = key
	r.identities[key].linked[addr] = struct{}{}
	delete(r.pending, addr)
	if r.attempts != nil {
		r.attempts.Delete(addr)
	}
}

func (r *Resolver) touch(entry *cachedIdentity, now time.Time) {
	if r.cfg.IdentityTTL > 0 {
		entry.expiresAt = now.Add(r.cfg.IdentityTTL)
	}
}

func (r *Resolver) expired(entry *cachedIdentity, now time.Time) bool {
	return !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt)
}

func (r *Resolver) lookupLocked(addr domain.Address, now time.Time) (*cachedIdentity, bool) {
	key, ok := r.byAddress[addr]
	if !ok {
		return nil, false
	}
	entry, ok := r.identities[key]
	if !ok || r.expired(entry, now) {
		return nil, false
	}
	return entry, true
}

func (r *Resolver) takeBatch(now time.Time) []domain.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Before(r.cooldownUntil) {
		return nil
	}
	r.cooldownUntil = time.Time{}
	r.pruneExpired(now)

	batch := make([]domain.Address, 0, r.cfg.BatchSize)
	for _, addr := range sortedAddresses(r.pending) {
		if len(batch) == r.cfg.BatchSize {
			break
		}
		if _, ok := r.lookupLocked(addr, now); ok {
			delete(r.pending, addr)
			continue
		}
		if r.attempts != nil && r.attempts.Get(addr) != nil {
			continue
		}
		batch = append(batch, addr)
		delete(r.pending, addr)
	}

	metrics.UnresolvedQueueSize.Set(float64(len(r.pending)))
	return batch
}

// requeue returns unresolved addresses to the queue. When attempted is set
// they are stamped so the retry gate holds them back.
func (r *Resolver) requeue(batch []domain.Address, attempted bool) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, addr := range batch {
		if _, ok := r.lookupLocked(addr, now); ok {
			continue
		}
		r.pending[addr] = struct{}{}
		if attempted && r.attempts != nil {
			r.attempts.Set(addr, now, ttlcache.DefaultTTL)
		}
	}
	metrics.UnresolvedQueueSize.Set(float64(len(r.pending)))
}

// pruneExpired drops identities whose TTL has passed. Caller holds r.mu.
func (r *Resolver) pruneExpired(now time.Time) {
	if r.cfg.IdentityTTL <= 0 {
		return
	}
	for key, entry := range r.identities {
		if r.expired(entry, now) {
			r.evict(key, entry)
		}
	}
}

// enrich refreshes identities first seen in this drain so their primary
// wallet joins the merge.
func (r *Resolver) enrich(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if _, err := r.fetchSocialID(ctx, id, "enrich:", r.storeEnriched); err != nil {
			r.logger.Warnw("Identity enrichment failed", "socialId", id, "error", err)
			if errors.Is(err, domain.ErrRateLimited) {
				r.recordFailure(err)
				return
			}
		}
	}
}

func (r *Resolver) recordFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastError = err.Error()
	if errors.Is(err, domain.ErrRateLimited) {
		r.cooldownUntil = r.clock.Now().Add(r.cfg.RateLimitBackoff)
		r.logger.Warnw("Identity source rate limited, cooling down", "cooldownUntil", r.cooldownUntil)
	}
}

func (r *Resolver) clearFailure() {
	r.mu.Lock()
	r.lastError = ""
	r.mu.Unlock()
}

func (r *Resolver) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.RequestTimeout)
}

// distinctCandidates collapses duplicate entries for the same identity.
func distinctCandidates(candidates []domain.Identity) []domain.Identity {
	if len(candidates) < 2 {
		return candidates
	}
	seen := make(map[string]bool, len(candidates))
	out := make([]domain.Identity, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		out = append(out, c)
	}
	return out
}

func sortedAddresses(set map[domain.Address]struct{}) []domain.Address {
	out := make([]domain.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
