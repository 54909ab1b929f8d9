package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

// takeScript refills the bucket for every elapsed window and takes one token.
// Returns {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local windows = math.floor(elapsed / window_ms)
if windows > 0 then
	tokens = capacity
	last_refill = last_refill + (windows * window_ms)
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, window_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('PEXPIRE', key, window_ms)

return { allowed, tokens, retry_after_ms }
`)

// refundScript hands a token back without exceeding capacity.
var refundScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local tokens = tonumber(redis.call('HGET', key, 'tokens'))
if tokens == nil then
	return 0
end
if tokens < capacity then
	redis.call('HINCRBY', key, 'tokens', 1)
end
return 1
`)

// RateLimitOptions configures one limiter instance.
type RateLimitOptions struct {
	Name        string
	Prefix      string
	Window      time.Duration
	Max         int
	Enabled     bool
	PerRoute    bool
	RefundOnOK  bool
	Logger      *zap.Logger
	Now         func() time.Time
	Description string
}

// RateLimit limits requests per client IP, and per route with PerRoute, using
// a Redis token bucket that refills to Max at the start of every Window. Redis
// errors let the request through. With RefundOnOK, requests that finish below
// 400 give their token back so only failed attempts count.
func RateLimit(rdb redis.Scripter, opts RateLimitOptions) gin.HandlerFunc {
	if !opts.Enabled || rdb == nil || opts.Max <= 0 || opts.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		route := ""
		if opts.PerRoute {
			route = c.FullPath()
		}
		key := rateKey(opts.Prefix, opts.Name, route, c.ClientIP())
		ctx := c.Request.Context()

		vals, err := takeScript.Run(ctx, rdb, []string{key}, now().UnixMilli(), opts.Max, opts.Window.Milliseconds()).Int64Slice()
		if err != nil || len(vals) != 3 {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]

		c.Header("X-RateLimit-Limit", strconv.Itoa(opts.Max))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			secs := int(math.Ceil(float64(retryMs) / 1000.0))
			c.Header("Retry-After", strconv.Itoa(secs))
			logger.Info("rate limit exceeded", zap.String("key", key), zap.Int("retry_after", secs))
			response.Abort(c, tooManyRequests(opts.Description))
			return
		}

		c.Next()

		if opts.RefundOnOK && c.Writer.Status() < http.StatusBadRequest {
			if err := refundScript.Run(ctx, rdb, []string{key}, opts.Max).Err(); err != nil {
				logger.Warn("rate limiter refund failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}

func tooManyRequests(message string) *appErrors.Error {
	if message == "" {
		return appErrors.ErrTooManyRequests
	}
	return appErrors.Clone(appErrors.ErrTooManyRequests, message)
}

func rateKey(prefix, name, route, ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{prefix, name, route} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, fmt.Sprintf("ip:%s", ip))
	return strings.Join(parts, ":")
}
