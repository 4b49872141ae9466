package redisclient

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"sales-analytics/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb         *redis.Client
	releaseLock *redis.Script
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		releaseLock: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ReportKey returns the cache key of a report kind for a filter hash.
func ReportKey(kind, filterHash string) string {
	return fmt.Sprintf("report:%s:%s", kind, filterHash)
}

// FilterHash returns a stable hex digest of f plus any extra report
// parameters. List order and surrounding spaces do not change the digest.
func FilterHash(f models.ReportFilter, params ...string) string {
	canon := struct {
		Start     string   `json:"start"`
		End       string   `json:"end"`
		Channels  []string `json:"channels"`
		Regions   []string `json:"regions"`
		Brands    []string `json:"brands"`
		SalesReps []string `json:"sales_reps"`
		Teams     []string `json:"teams"`
		RepCode   string   `json:"sales_rep_code"`
		Params    []string `json:"params"`
	}{
		Start:     formatDate(f.StartDate),
		End:       formatDate(f.EndDate),
		Channels:  canonical(f.Channels),
		Regions:   canonical(f.Regions),
		Brands:    canonical(f.Brands),
		SalesReps: canonical(f.SalesReps),
		Teams:     canonical(f.Teams),
		RepCode:   strings.TrimSpace(f.SalesRepCode),
		Params:    params,
	}

	// Marshalling a struct of strings cannot fail.
	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// GetReport loads a cached report into dest. It reports false on a miss.
func (c *Client) GetReport(ctx context.Context, key string, dest interface{}) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, fmt.Errorf("decode cached report %s: %w", key, err)
	}
	return true, nil
}

// SetReport stores a report as JSON with TTL
func (c *Client) SetReport(ctx context.Context, key string, report interface{}, ttl time.Duration) error {
	b, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// DeleteReport evicts a cached report
func (c *Client) DeleteReport(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// AcquireLock acquires a distributed lock. The returned token identifies
// this holder to ReleaseLock; it is empty when the lock is taken.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still holds it. A lock
// that expired and was taken by someone else is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseLock.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Err()
}

func lockName(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func canonical(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
