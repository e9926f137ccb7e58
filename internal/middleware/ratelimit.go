package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tradegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// bucketScript keeps one token bucket per hash key.
// ARGV: rate (tokens/s), burst, now (ms). Returns {allowed, remaining, wait_ms}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - ts) * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", key, math.ceil(burst * 1000 / rate) * 2)
return { allowed, math.floor(tokens), wait }
`)

var errBadBucketReply = errors.New("unexpected token bucket reply")

const (
	DefaultRateLimitKeyPrefix = "tradegate:ratelimit:"
	localIdleTTL              = 10 * time.Minute
)

type RateLimitOptions struct {
	RequestsPerSecond int
	// Burst defaults to RequestsPerSecond.
	Burst     int
	KeyPrefix string
	// RedisTimeout bounds each bucket call; past it the local bucket decides.
	RedisTimeout time.Duration
}

// RateLimiter throttles per client IP. Buckets live in redis so every gateway
// instance shares them; when redis is absent or failing each instance falls
// back to its own in-memory buckets.
type RateLimiter struct {
	rdb  *redis.Client
	opts RateLimitOptions

	local     sync.Map // client ip -> *localBucket
	lastSweep atomic.Int64
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func NewRateLimiter(rdb *redis.Client, opts RateLimitOptions) *RateLimiter {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.RequestsPerSecond
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultRateLimitKeyPrefix
	}
	if opts.RedisTimeout <= 0 {
		opts.RedisTimeout = 100 * time.Millisecond
	}
	return &RateLimiter{rdb: rdb, opts: opts}
}

func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		var (
			allowed   bool
			remaining int
			wait      time.Duration
		)
		if l.rdb == nil {
			allowed, remaining, wait = l.allowLocal(ip)
		} else {
			var err error
			allowed, remaining, wait, err = l.allowShared(c.Request.Context(), ip)
			if err != nil {
				logger.Warn("shared rate limit unavailable, using local bucket", zap.String("ip", ip), zap.Error(err))
				allowed, remaining, wait = l.allowLocal(ip)
			}
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(l.opts.RequestsPerSecond))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allowShared(ctx context.Context, ip string) (bool, int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.RedisTimeout)
	defer cancel()

	res, err := bucketScript.Run(ctx, l.rdb, []string{l.opts.KeyPrefix + ip},
		l.opts.RequestsPerSecond, l.opts.Burst, time.Now().UnixMilli()).Int64Slice()
	if err != nil {
		return false, 0, 0, err
	}
	if len(res) != 3 {
		return false, 0, 0, errBadBucketReply
	}
	return res[0] == 1, int(res[1]), time.Duration(res[2]) * time.Millisecond, nil
}

func (l *RateLimiter) allowLocal(ip string) (bool, int, time.Duration) {
	now := time.Now()
	l.sweep(now)

	fresh := &localBucket{limiter: rate.NewLimiter(rate.Limit(l.opts.RequestsPerSecond), l.opts.Burst)}
	v, _ := l.local.LoadOrStore(ip, fresh)
	b := v.(*localBucket)
	b.lastSeen.Store(now.Unix())

	r := b.limiter.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, 0, wait
	}
	return true, int(b.limiter.TokensAt(now)), 0
}

// sweep drops idle local buckets at most once per idle period.
func (l *RateLimiter) sweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.Unix()-last < int64(localIdleTTL/time.Second) || !l.lastSweep.CompareAndSwap(last, now.Unix()) {
		return
	}
	cutoff := now.Add(-localIdleTTL).Unix()
	l.local.Range(func(key, value any) bool {
		if value.(*localBucket).lastSeen.Load() < cutoff {
			l.local.Delete(key)
		}
		return true
	})
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
