package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/cooldown"
)

const (
	// RateLimitDelay is the fixed wait after a 429 from the server.
	RateLimitDelay = 30 * time.Second

	// MaxTransientRetries bounds retries of unclassified server errors.
	MaxTransientRetries = 5
)

// ErrorClass partitions action errors by retry treatment.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassCooldown
	ClassRateLimit
	ClassTerminal
)

// Classify assigns an error to its retry class by message content.
func Classify(err error) ErrorClass {
	msg := err.Error()
	switch {
	case cooldown.IsTerminal(msg):
		return ClassTerminal
	case cooldown.IsCooldownError(msg):
		return ClassCooldown
	case cooldown.IsRateLimited(msg):
		return ClassRateLimit
	default:
		return ClassTransient
	}
}

// StandardPolicy is the default OnError for activity loops: cooldown errors
// wait exactly what the server asked, rate limits wait a fixed long delay,
// terminal conditions stop, everything else gets bounded backoff.
func StandardPolicy(logger *zap.Logger) func(err error, attempt int) Decision {
	backoff := DefaultBackoff()
	transient := 0
	return func(err error, attempt int) Decision {
		switch Classify(err) {
		case ClassTerminal:
			logger.Info("Terminal condition, stopping loop", zap.Error(err))
			return Stop()
		case ClassCooldown:
			transient = 0
			secs := cooldown.ParseError(err.Error())
			return RetryAfter(time.Duration(secs*float64(time.Second)) + cooldown.Buffer)
		case ClassRateLimit:
			transient = 0
			logger.Warn("Rate limited", zap.Error(err))
			return RetryAfter(RateLimitDelay)
		default:
			transient++
			if transient > MaxTransientRetries {
				logger.Error("Transient retries exhausted", zap.Error(err))
				return Stop()
			}
			return RetryAfter(backoff.NextRetry(transient))
		}
	}
}
