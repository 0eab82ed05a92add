// Package cache wraps the Redis primitives the dispatch gateway shares
// across server instances: the active-provider geo set, per-provider
// location throttle tokens, the bounded per-job tracking-session list,
// and TTL'd provider detail hashes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fielddispatch/gateway/internal/config"
)

// Client wraps a go-redis client with the typed operations the dispatch
// domain needs. It never leaks *redis.Client to callers outside this
// package, so the wire protocol stays swappable.
type Client struct {
	rdb *redis.Client
}

// New builds a Client from the configured Redis URL.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{rdb: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(pingCtx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

const activeProvidersGeoKey = "dispatch:providers:active"

// UpdateProviderGeo writes the provider's current position into the
// shared geospatial sorted set used for nearest-provider queries.
func (c *Client) UpdateProviderGeo(ctx context.Context, providerID string, lat, lng float64) error {
	return c.rdb.GeoAdd(ctx, activeProvidersGeoKey, &redis.GeoLocation{
		Name:      providerID,
		Latitude:  lat,
		Longitude: lng,
	}).Err()
}

// RemoveProviderGeo removes a provider from the active geo set, called
// when a tracking session closes.
func (c *Client) RemoveProviderGeo(ctx context.Context, providerID string) error {
	return c.rdb.ZRem(ctx, activeProvidersGeoKey, providerID).Err()
}

// NearestProviders returns the provider ids within radiusKm of the given
// point, nearest first.
func (c *Client) NearestProviders(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]string, error) {
	res, err := c.rdb.GeoSearch(ctx, activeProvidersGeoKey, &redis.GeoSearchQuery{
		Longitude: lng,
		Latitude:  lat,
		Radius:    radiusKm,
		RadiusUnit: "km",
		Sort:      "ASC",
		Count:     limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ProviderDetail is the short-lived location detail stored per provider.
type ProviderDetail struct {
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func detailKey(providerID string) string {
	return "dispatch:provider:detail:" + providerID
}

// SetProviderDetail writes the provider's heading/speed/updated_at with
// the configured TTL so stale entries vanish automatically.
func (c *Client) SetProviderDetail(ctx context.Context, providerID string, detail ProviderDetail, ttl time.Duration) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, detailKey(providerID), payload, ttl).Err()
}

// GetProviderDetail reads back a provider's last known detail, or nil if
// it has expired or was never written.
func (c *Client) GetProviderDetail(ctx context.Context, providerID string) (*ProviderDetail, error) {
	payload, err := c.rdb.Get(ctx, detailKey(providerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var detail ProviderDetail
	if err := json.Unmarshal(payload, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func throttleKey(providerID string) string {
	return "dispatch:provider:throttle:" + providerID
}

// TryConsumeLocationToken enforces the server-side location-update
// throttle (at most one accepted update per interval per provider). It
// returns true if the update should be accepted.
func (c *Client) TryConsumeLocationToken(ctx context.Context, providerID string, interval time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, throttleKey(providerID), "1", interval).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// LocationSnapshot is one entry appended to a job's tracking-session
// audit list.
type LocationSnapshot struct {
	ProviderID string    `json:"provider_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func trackingKey(jobID string) string {
	return "dispatch:job:tracking:" + jobID
}

// AppendTrackingSnapshot appends a location snapshot to the job's
// tracking-session list, trimmed to maxLen entries for bounded audit
// storage.
func (c *Client) AppendTrackingSnapshot(ctx context.Context, jobID string, snap LocationSnapshot, maxLen int) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := trackingKey(jobID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-maxLen), -1)
	_, err = pipe.Exec(ctx)
	return err
}

// TrackingSnapshots returns every recorded snapshot for a job, oldest
// first.
func (c *Client) TrackingSnapshots(ctx context.Context, jobID string) ([]LocationSnapshot, error) {
	raw, err := c.rdb.LRange(ctx, trackingKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LocationSnapshot, 0, len(raw))
	for _, r := range raw {
		var s LocationSnapshot
		if err := json.Unmarshal([]byte(r), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// CloseTrackingSession removes the provider from the active geo set. The
// provider's detail key is not deleted; it expires on its own TTL.
func (c *Client) CloseTrackingSession(ctx context.Context, providerID string) error {
	return c.RemoveProviderGeo(ctx, providerID)
}

// Publish broadcasts a message on a named channel for cross-instance
// room fan-out.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a subscription to a named channel.
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channel)
}
