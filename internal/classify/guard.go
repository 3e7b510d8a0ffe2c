package classify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// GuardConfig enables optional protections around the remote service. Zero
// values disable each one.
type GuardConfig struct {
	// RequestsPerMinute paces calls to the service.
	RequestsPerMinute int

	// BreakerFailures opens the circuit after this many consecutive
	// service failures; later files are skipped until BreakerCooldown passes.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Guard wraps a Classifier with pacing, a circuit breaker and latency
// accounting. It never retries.
type Guard struct {
	next    Classifier
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[Result]
	stats   *LatencyStats
	log     *slog.Logger
}

func NewGuard(next Classifier, cfg GuardConfig, stats *LatencyStats, log *slog.Logger) *Guard {
	if stats == nil {
		stats = NewLatencyStats()
	}
	if log == nil {
		log = slog.Default()
	}
	g := &Guard{next: next, stats: stats, log: log}

	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	if cfg.BreakerFailures > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		threshold := uint32(cfg.BreakerFailures)
		g.breaker = gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
			Name:        "classifier",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: countsAsHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return g
}

func (g *Guard) Classify(ctx context.Context, content, filename string) (Result, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Result{}, &Error{Kind: KindUnavailable, Err: err}
		}
	}

	call := func() (Result, error) {
		start := time.Now()
		res, err := g.next.Classify(ctx, content, filename)
		g.stats.Record(time.Since(start))
		if err != nil {
			g.stats.RecordError(err)
		}
		return res, err
	}
	if g.breaker == nil {
		return call()
	}

	res, err := g.breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, &Error{Kind: KindUnavailable, Err: err}
	}
	return res, err
}

// Stats returns the latency accumulator.
func (g *Guard) Stats() *LatencyStats {
	return g.stats
}

// countsAsHealthy treats malformed model output and client errors as a
// healthy service; only transport failures, 429 and 5xx trip the breaker.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	var cerr *Error
	if !errors.As(err, &cerr) {
		return false
	}
	switch cerr.Kind {
	case KindDecode, KindSchema:
		return true
	case KindStatus:
		return cerr.StatusCode != 429 && cerr.StatusCode < 500
	}
	return false
}
