package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/config"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	pollers  map[string]*Poller
	networks []string
	resolver *Resolver
	board    *Leaderboard
	config   *config.Leaderboard
	logger   *logger.Logger

	mu             sync.Mutex
	pollingStarted bool
	cancel         context.CancelFunc
	group          *errgroup.Group
}

func NewService(
	pollers []*Poller,
	resolver *Resolver,
	config *config.Leaderboard,
	logger *logger.Logger,
) *Service {
	s := &Service{
		pollers:  make(map[string]*Poller, len(pollers)),
		resolver: resolver,
		board:    NewLeaderboard(resolver),
		config:   config,
		logger:   logger,
	}
	for _, p := range pollers {
		s.pollers[p.Network()] = p
		s.networks = append(s.networks, p.Network())
	}
	sort.Strings(s.networks)
	return s
}

func (s *Service) Networks() []string {
	return append([]string(nil), s.networks...)
}

func (s *Service) GetLeaderboard(network string, limit int) ([]domain.LeaderboardRow, error) {
	p, err := s.poller(network)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	return s.board.Top(p.Ledger().Snapshot(), limit), nil
}

// GetProfile returns an address's strikes across all networks, merged over
// every address linked to its identity. An unknown address gets one bounded
// resolution attempt; failures degrade to an address-only profile.
func (s *Service) GetProfile(ctx context.Context, address string) (*domain.Profile, error) {
	addr, err := domain.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	identity, ok := s.resolver.Lookup(addr)
	if !ok {
		identity, ok = s.resolveOnDemand(ctx, addr)
	}

	profile := &domain.Profile{Address: &addr}
	addresses := []domain.Address{addr}
	if ok {
		profile.Identity = &identity
		addresses = mergeAddresses(addr, identity.LinkedAddresses)
	}
	s.fillStrikes(profile, addresses)

	return profile, nil
}

// GetIdentityProfile fetches the authoritative record for socialID and sums
// strikes over every address it owns. A cached record is served when the
// identity source is unavailable.
func (s *Service) GetIdentityProfile(ctx context.Context, socialID int64) (*domain.Profile, error) {
	identity, err := s.resolver.ResolveBySocialID(ctx, socialID)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, err
		}
		cached, ok := s.resolver.LookupSocialID(socialID)
		if !ok {
			return nil, err
		}
		s.logger.Warnw("Serving cached identity", "socialId", socialID, "error", err)
		identity = cached
	}

	profile := &domain.Profile{Identity: &identity}
	s.fillStrikes(profile, identity.LinkedAddresses)
	return profile, nil
}

func (s *Service) GetStatus(network string) (domain.PollerStatus, error) {
	p, err := s.poller(network)
	if err != nil {
		return domain.PollerStatus{}, err
	}
	return p.Status(), nil
}

func (s *Service) GetStatuses() []domain.PollerStatus {
	statuses := make([]domain.PollerStatus, 0, len(s.networks))
	for _, name := range s.networks {
		statuses = append(statuses, s.pollers[name].Status())
	}
	return statuses
}

func (s *Service) GetResolverStatus() domain.ResolverStatus {
	return s.resolver.Status()
}

func (s *Service) GetStats() (map[string]interface{}, error) {
	networks := make(map[string]interface{}, len(s.networks))
	var totalStrikes uint64
	players := make(map[domain.Address]bool)

	for _, name := range s.networks {
		snapshot := s.pollers[name].Ledger().Snapshot()
		var strikes uint64
		for addr, n := range snapshot {
			strikes += n
			players[addr] = true
		}
		totalStrikes += strikes
		networks[name] = map[string]interface{}{
			"total_strikes":     strikes,
			"tracked_addresses": len(snapshot),
		}
	}

	resolver := s.resolver.Status()

	stats := make(map[string]interface{})
	stats["networks"] = networks
	stats["total_strikes"] = totalStrikes
	stats["unique_addresses"] = len(players)
	stats["identities"] = resolver.Identities
	stats["linked_addresses"] = resolver.LinkedAddresses
	stats["pending_resolution"] = resolver.Pending

	return stats, nil
}

// StartPolling runs every network poller and the resolver loop until
// StopPolling is called.
func (s *Service) StartPolling() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pollingStarted {
		return domain.ErrPollingAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	for _, name := range s.networks {
		p := s.pollers[name]
		g.Go(func() error {
			return p.Run(gctx)
		})
	}
	g.Go(func() error {
		return s.resolver.Run(gctx)
	})

	s.cancel = cancel
	s.group = g
	s.pollingStarted = true

	s.logger.Infow("Polling started", "networks", s.networks)
	return nil
}

func (s *Service) StopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pollingStarted {
		return
	}

	s.cancel()
	if err := s.group.Wait(); err != nil {
		s.logger.Errorw("Polling stopped with error", "error", err)
	}
	s.pollingStarted = false
	s.logger.Info("Polling stopped")
}

// Ready reports whether every poller has seeded its cursor.
func (s *Service) Ready() bool {
	for _, name := range s.networks {
		if !s.pollers[name].Status().Initialized {
			return false
		}
	}
	return true
}

func (s *Service) poller(network string) (*Poller, error) {
	p, ok := s.pollers[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNetwork, network)
	}
	return p, nil
}

func (s *Service) resolveOnDemand(ctx context.Context, addr domain.Address) (domain.Identity, bool) {
	if s.config.ProfileResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ProfileResolveTimeout)
		defer cancel()
	}

	if _, err := s.resolver.ResolveByAddresses(ctx, []domain.Address{addr}); err != nil {
		s.logger.Warnw("On-demand identity lookup failed", "address", addr, "error", err)
		return domain.Identity{}, false
	}
	return s.resolver.Lookup(addr)
}

func (s *Service) fillStrikes(profile *domain.Profile, addresses []domain.Address) {
	profile.Strikes = make(map[string]uint64, len(s.networks))
	for _, name := range s.networks {
		ledger := s.pollers[name].Ledger()
		var n uint64
		for _, addr := range addresses {
			n += ledger.Count(addr)
		}
		profile.Strikes[name] = n
		profile.Total += n
	}
}

func mergeAddresses(addr domain.Address, linked []domain.Address) []domain.Address {
	out := []domain.Address{addr}
	for _, a := range linked {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}
