package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"
)

// TokenCache stores minted access tokens. Get returns (nil, nil) on a miss.
type TokenCache interface {
	Get(ctx context.Context, key string) (*oauth2.Token, error)
	Put(ctx context.Context, key string, tok *oauth2.Token) error
}

// expirySkew is subtracted from the token lifetime so a cached token is
// never handed out in its last minute.
const expirySkew = time.Minute

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry"`
}

// RedisCache keeps tokens in Redis so several replicas share one token.
type RedisCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "leads:token:", now: time.Now}
}

// NewRedisCacheFromURL parses a redis:// URL and connects lazily.
func NewRedisCacheFromURL(rawURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(redis.NewClient(opts)), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*oauth2.Token, error) {
	str, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ct cachedToken
	if err := json.Unmarshal([]byte(str), &ct); err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: ct.AccessToken, TokenType: ct.TokenType, Expiry: ct.Expiry}, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, tok *oauth2.Token) error {
	ttl := cacheTTL(tok, c.now())
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(cachedToken{AccessToken: tok.AccessToken, TokenType: tok.TokenType, Expiry: tok.Expiry})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, b, ttl).Err()
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// cacheTTL is how long tok may be served from a cache. Tokens without an
// expiry are not cached.
func cacheTTL(tok *oauth2.Token, now time.Time) time.Duration {
	if tok == nil || tok.Expiry.IsZero() {
		return 0
	}
	return tok.Expiry.Sub(now) - expirySkew
}
