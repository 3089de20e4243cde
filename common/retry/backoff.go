package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config 즉시 재시도 설정 (인프라 호출용 exponential backoff)
type Config struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	MaxInterval        time.Duration
	BackoffCoefficient float64
	MaxElapsedTime     time.Duration
}

// DefaultConfig 기본 재시도 설정
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		InitialInterval:    100 * time.Millisecond,
		MaxInterval:        2 * time.Second,
		BackoffCoefficient: 2.0,
		MaxElapsedTime:     10 * time.Second,
	}
}

// Do 재시도 실행
func Do(ctx context.Context, config Config, logger *zap.Logger, fn func() error) error {
	_, err := DoWithResult(ctx, config, logger, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult 재시도 실행 (결과 반환)
func DoWithResult[T any](ctx context.Context, config Config, logger *zap.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	interval := config.InitialInterval
	startTime := time.Now()

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if config.MaxElapsedTime > 0 && time.Since(startTime) > config.MaxElapsedTime {
			return zero, fmt.Errorf("max elapsed time exceeded: %w", lastErr)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		logger.Warn("retry attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", config.MaxAttempts),
			zap.Error(err))

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * config.BackoffCoefficient)
		if interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}

	return zero, fmt.Errorf("max attempts reached: %w", lastErr)
}
