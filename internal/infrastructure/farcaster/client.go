package farcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	bulkByAddressPath = "/v2/farcaster/user/bulk-by-address"
	bulkUsersPath     = "/v2/farcaster/user/bulk"
)

type Client struct {
	baseURL     string
	httpClient  *resty.Client
	logger      *logger.Logger
	rateLimiter *rate.Limiter
}

func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int, retryDelay time.Duration, requestsPerSecond float64, log *logger.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(retryDelay).
		SetRetryMaxWaitTime(retryDelay*3).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// 429 is surfaced to the resolver so it can cool down.
			return err != nil || r.StatusCode() >= 500
		})
	if apiKey != "" {
		httpClient.SetHeader("x-api-key", apiKey)
	}

	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		logger:      log,
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
}

// ResolveAddresses returns every candidate identity for each address. Addresses
// with no verified user are absent from the result.
func (c *Client) ResolveAddresses(ctx context.Context, addresses []domain.Address) (map[domain.Address][]domain.Identity, error) {
	result := make(map[domain.Address][]domain.Identity, len(addresses))
	if len(addresses) == 0 {
		return result, nil
	}

	joined := make([]string, len(addresses))
	for i, a := range addresses {
		joined[i] = a.String()
	}

	body, status, err := c.get(ctx, bulkByAddressPath, map[string]string{
		"addresses":     strings.Join(joined, ","),
		"address_types": "verified_address",
	})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return result, nil
	}

	var resp BulkByAddressResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	for rawAddr, users := range resp {
		addr, err := domain.ParseAddress(rawAddr)
		if err != nil {
			c.logger.Warnw("Skipping malformed address in identity response", "address", rawAddr)
			continue
		}
		for _, u := range users {
			result[addr] = append(result[addr], toIdentity(u, c.logger))
		}
	}

	c.logger.Debugw("Resolved addresses", "requested", len(addresses), "matched", len(result))

	return result, nil
}

func (c *Client) ResolveSocialID(ctx context.Context, id int64) (domain.Identity, error) {
	body, status, err := c.get(ctx, bulkUsersPath, map[string]string{
		"fids": strconv.FormatInt(id, 10),
	})
	if err != nil {
		return domain.Identity{}, err
	}
	if status == http.StatusNotFound {
		return domain.Identity{}, fmt.Errorf("fid %d: %w", id, domain.ErrIdentityNotFound)
	}

	var resp BulkUsersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Identity{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	for _, u := range resp.Users {
		if u.FID == id {
			return toIdentity(u, c.logger), nil
		}
	}

	return domain.Identity{}, fmt.Errorf("fid %d: %w", id, domain.ErrIdentityNotFound)
}

// get returns the body for 2xx and 404 responses and an error otherwise.
func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limiter error: %w", err)
	}

	url := c.baseURL + path
	c.logger.Debugw("Calling identity API", "url", url, "params", params)

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)

	duration := time.Since(start).Seconds()
	success := err == nil && (resp.IsSuccess() || resp.StatusCode() == http.StatusNotFound)
	metrics.RecordIdentityRequest(path, duration, success)

	if err != nil {
		return nil, 0, fmt.Errorf("failed to call identity API: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, resp.StatusCode(), fmt.Errorf("identity API %s: %w", path, domain.ErrRateLimited)
	case resp.StatusCode() == http.StatusNotFound:
		return resp.Body(), resp.StatusCode(), nil
	case !resp.IsSuccess():
		return nil, resp.StatusCode(), fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}

	return resp.Body(), resp.StatusCode(), nil
}

func toIdentity(u User, log *logger.Logger) domain.Identity {
	fid := u.FID
	identity := domain.Identity{
		SocialID:    &fid,
		Handle:      u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.PfpURL,
	}

	if u.VerifiedAddresses.Primary.EthAddress != "" {
		if primary, err := domain.ParseAddress(u.VerifiedAddresses.Primary.EthAddress); err == nil {
			identity.PrimaryWalletAddress = &primary
		} else {
			log.Debugw("Ignoring malformed primary address", "fid", u.FID, "address", u.VerifiedAddresses.Primary.EthAddress)
		}
	}

	for _, raw := range u.VerifiedAddresses.EthAddresses {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			continue
		}
		identity.LinkedAddresses = append(identity.LinkedAddresses, addr)
	}

	return identity
}
