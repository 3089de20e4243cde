package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/metrics"
)

// RateLimiter Redis 고정 윈도우 요청 제한기 (클라이언트 IP 기준)
type RateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
	logger *zap.Logger
}

// NewRateLimiter 요청 제한기 생성
func NewRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		logger: logger,
	}
}

// Allow 요청 1건을 기록하고 허용 여부와 윈도우 잔여 시간을 반환
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, int64, time.Duration, error) {
	fullKey := fmt.Sprintf("%s:%s", l.prefix, key)

	count, err := l.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, 0, 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, fullKey, l.window).Err(); err != nil {
			return false, 0, 0, err
		}
	}

	if count <= l.limit {
		return true, l.limit - count, 0, nil
	}

	ttl, err := l.client.TTL(ctx, fullKey).Result()
	if err != nil {
		return false, 0, 0, err
	}
	if ttl < 0 {
		// 만료가 누락된 키는 다시 설정
		_ = l.client.Expire(ctx, fullKey, l.window).Err()
		ttl = l.window
	}
	return false, 0, ttl, nil
}

// Handler gin 미들웨어. Redis 장애 시 요청을 통과시킨다.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			l.logger.Warn("rate limiter unavailable, allowing request",
				zap.String("ip", c.ClientIP()),
				zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(l.limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			seconds := int64(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			metrics.DeliveriesReceived.WithLabelValues("rate_limited", "unknown").Inc()
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message":     "Too many requests",
				"retry_after": seconds,
				"limit":       l.limit,
				"window":      l.window.String(),
			})
			return
		}

		c.Next()
	}
}
