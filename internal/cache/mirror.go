// Package cache mirrors the aggregator's latest points into Redis so other
// processes can read them without polling upstream.
package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"goldwatch/internal/fetcher"
)

// ErrNotFound is returned when no point is mirrored for a source.
var ErrNotFound = errors.New("cache: not found")

// Options hold connection parameters for the mirror.
type Options struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
	KeyPrefix  string
	// TTL expires mirrored points so readers never see a long-dead process's data.
	TTL time.Duration
}

// PriceMirror stores each source's latest point as a hash at "<prefix>price:<id>".
type PriceMirror struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects and pings Redis.
func New(ctx context.Context, opts Options) (*PriceMirror, error) {
	ropts := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	}
	if opts.TLSEnabled {
		ropts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewWithClient(rdb, opts.KeyPrefix, opts.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *PriceMirror {
	if prefix == "" {
		prefix = "goldwatch:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PriceMirror{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Close closes the Redis connection.
func (m *PriceMirror) Close() error {
	return m.rdb.Close()
}

func (m *PriceMirror) key(sourceID string) string {
	return m.prefix + "price:" + sourceID
}

// Publish writes every point in one transaction.
func (m *PriceMirror) Publish(ctx context.Context, points []fetcher.Point) error {
	if len(points) == 0 {
		return nil
	}

	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range points {
			key := m.key(p.SourceID)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, encodePoint(p))
			pipe.Expire(ctx, key, m.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish points: %w", err)
	}
	return nil
}

// Get reads one mirrored point.
func (m *PriceMirror) Get(ctx context.Context, sourceID string) (fetcher.Point, error) {
	vals, err := m.rdb.HGetAll(ctx, m.key(sourceID)).Result()
	if err != nil {
		return fetcher.Point{}, fmt.Errorf("redis: get point %s: %w", sourceID, err)
	}
	return decodePoint(sourceID, vals)
}

// GetMany reads several points with a pipeline; missing sources are omitted.
func (m *PriceMirror) GetMany(ctx context.Context, sourceIDs []string) ([]fetcher.Point, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	pipe := m.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sourceIDs))
	for i, id := range sourceIDs {
		cmds[i] = pipe.HGetAll(ctx, m.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get points pipeline: %w", err)
	}

	points := make([]fetcher.Point, 0, len(sourceIDs))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		p, err := decodePoint(sourceIDs[i], vals)
		if err != nil {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

func encodePoint(p fetcher.Point) map[string]interface{} {
	fields := map[string]interface{}{
		"price": p.Value.String(),
		"unit":  p.Unit,
		"ts":    strconv.FormatInt(p.ObservedAt.UnixNano(), 10),
	}
	if p.Ask.Valid {
		fields["ask"] = p.Ask.Decimal.String()
	}
	if p.Rate.Valid {
		fields["rate"] = p.Rate.Decimal.String()
	}
	return fields
}

func decodePoint(sourceID string, vals map[string]string) (fetcher.Point, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return fetcher.Point{}, ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return fetcher.Point{}, fmt.Errorf("redis: parse price %s: %w", sourceID, err)
	}

	p := fetcher.Point{SourceID: sourceID, Value: price, Unit: vals["unit"]}

	if tsStr, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return fetcher.Point{}, fmt.Errorf("redis: parse ts %s: %w", sourceID, err)
		}
		p.ObservedAt = time.Unix(0, ns)
	}
	if s, ok := vals["ask"]; ok {
		if d, err := decimal.NewFromString(s); err == nil {
			p.Ask = decimal.NewNullDecimal(d)
		}
	}
	if s, ok := vals["rate"]; ok {
		if d, err := decimal.NewFromString(s); err == nil {
			p.Rate = decimal.NewNullDecimal(d)
		}
	}
	return p, nil
}
