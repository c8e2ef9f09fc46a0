// Package power resolves a wallet's voting weight from the NFT checkpoint
// indexer.
package power

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/webclient"
)

// VotingPowerSource returns the integer voting weight of a wallet. Zero
// means the wallet is not eligible.
type VotingPowerSource interface {
	PowerOf(ctx context.Context, wallet string) (uint64, error)
}

// Static is a fixed power table.
type Static map[string]uint64

func (s Static) PowerOf(_ context.Context, wallet string) (uint64, error) {
	return s[wallet], nil
}

// IndexerSource queries the indexer's HTTP API.
type IndexerSource struct {
	baseURL string
	http    *http.Client
}

func NewIndexerSource(baseURL string, timeout time.Duration) *IndexerSource {
	return &IndexerSource{baseURL: strings.TrimRight(baseURL, "/"), http: webclient.NewDefault(timeout)}
}

func (s *IndexerSource) PowerOf(ctx context.Context, wallet string) (uint64, error) {
	endpoint := s.baseURL + "/voting-power/" + url.PathEscape(wallet)
	status, body, err := webclient.DoWithRetry(ctx, 3, 500*time.Millisecond, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, nil, err
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, data, err
	})
	if err != nil {
		return 0, fmt.Errorf("indexer power of %s: %w", wallet, err)
	}
	switch status {
	case http.StatusOK:
		return parsePower(body)
	case http.StatusNotFound:
		return 0, nil
	}
	return 0, fmt.Errorf("indexer power of %s: status %d", wallet, status)
}

// parsePower accepts {"power": n}, {"votingPower": "n"}, {"voting_power": n}
// and the same fields wrapped in {"data": ...}.
func parsePower(body []byte) (uint64, error) {
	raw := map[string]interface{}{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return 0, fmt.Errorf("decode power: %w", err)
	}
	p, ok, err := ledger.UintField(raw, "power", "votingPower", "weight")
	if err != nil {
		return 0, fmt.Errorf("decode power: %w", err)
	}
	if !ok {
		return 0, errors.New("decode power: no power field")
	}
	return p, nil
}

// CachedSource memoizes non-zero power in Redis. Zero results are not
// cached so a wallet that just acquired an NFT is not locked out for the
// TTL.
type CachedSource struct {
	next VotingPowerSource
	rdb  *redis.Client
	ttl  time.Duration
	log  logrus.FieldLogger
}

const powerKeyPrefix = "questdao:power:"

func NewCachedSource(next VotingPowerSource, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, rdb: rdb, ttl: ttl, log: logrus.WithField("component", "power")}
}

func (c *CachedSource) PowerOf(ctx context.Context, wallet string) (uint64, error) {
	key := powerKeyPrefix + wallet
	v, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if p, perr := strconv.ParseUint(v, 10, 64); perr == nil {
			return p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).Warn("power cache read failed")
	}

	p, err := c.next.PowerOf(ctx, wallet)
	if err != nil || p == 0 {
		return p, err
	}
	if err := c.rdb.Set(ctx, key, strconv.FormatUint(p, 10), c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("power cache write failed")
	}
	return p, nil
}
