// Package ratelimit implements an adaptive AIMD token-bucket limiter
// sitting at the provider adapter boundary, optionally coordinated across
// gateway replicas via Redis. It is grounded on the teacher's
// middleware.AdaptiveRateLimiter, replacing the teacher's Pulse replicated
// map (not present anywhere in the example pack's go.mod) with
// github.com/redis/go-redis/v9, which several pack repos already depend
// on for exactly this kind of shared-counter coordination.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/modelmesh/gateway/inference"
)

// Limiter applies an AIMD-style adaptive token bucket: callers block until
// enough estimated tokens are available, and the effective tokens-per-minute
// budget halves on a rate_limited observation and recovers gradually
// otherwise.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64

	cluster *clusterSync
}

// New constructs a process-local Limiter with a tokens-per-minute budget.
// initialTPM <= 0 defaults to a conservative budget; maxTPM < initialTPM is
// clamped to initialTPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// NewClustered constructs a Limiter whose effective TPM budget is shared
// across processes via a Redis key, reconciled through pub/sub
// notifications on updates.
func NewClustered(ctx context.Context, rdb *redis.Client, key string, initialTPM, maxTPM float64) *Limiter {
	l := New(initialTPM, maxTPM)
	if rdb == nil || key == "" {
		return l
	}
	l.cluster = newClusterSync(ctx, rdb, key, l)
	return l
}

// Wait blocks until req's estimated token cost is available in the
// current budget, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, req *inference.Request) error {
	tokens := estimateTokens(req)
	return l.limiter.WaitN(ctx, tokens)
}

// Observe adjusts the budget based on a completed call's outcome: a
// rate-limited error halves the budget (backoff), any other outcome nudges
// it back toward the ceiling (probe).
func (l *Limiter) Observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if pe, ok := inference.AsProviderCallError(err); ok && pe.HTTPStatus() == 429 {
		l.backoff()
		return
	}
	l.probe()
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	changed := newTPM != l.currentTPM
	if changed {
		l.setTPMLocked(newTPM)
	}
	l.mu.Unlock()
	if changed && l.cluster != nil {
		go l.cluster.publishBackoff(l.minTPM)
	}
}

func (l *Limiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	changed := newTPM != l.currentTPM
	if changed {
		l.setTPMLocked(newTPM)
	}
	l.mu.Unlock()
	if changed && l.cluster != nil {
		go l.cluster.publishProbe(l.recoveryRate, l.maxTPM)
	}
}

// setTPMLocked updates currentTPM and the underlying rate.Limiter. Callers
// must hold l.mu.
func (l *Limiter) setTPMLocked(tpm float64) {
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// replaceTPM clamps and applies an externally observed shared budget
// value, used when reconciling a cluster update.
func (l *Limiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		return
	}
	l.setTPMLocked(tpm)
}

// estimateTokens computes a cheap heuristic for the number of tokens in
// req's transcript: characters in text/tool-result blocks divided by an
// approximate 3 characters-per-token ratio, plus a fixed buffer for
// system prompts and provider framing.
func estimateTokens(req *inference.Request) int {
	charCount := len(req.System)
	for _, m := range req.Messages {
		for _, part := range m.Content {
			switch v := part.(type) {
			case inference.TextBlock:
				charCount += len(v.Text)
			case inference.ToolResultBlock:
				if s, ok := v.Result.(string); ok {
					charCount += len(s)
				}
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

// clusterSync coordinates a shared TPM budget across processes using a
// Redis string key plus a pub/sub channel for change notification.
type clusterSync struct {
	rdb *redis.Client
	key string
	ch  string
}

func newClusterSync(ctx context.Context, rdb *redis.Client, key string, l *Limiter) *clusterSync {
	cs := &clusterSync{rdb: rdb, key: key, ch: "ratelimit:" + key}
	cs.rdb.SetNX(ctx, key, strconv.Itoa(int(l.currentTPM)), 0)
	if cur, err := cs.rdb.Get(ctx, key).Float64(); err == nil && cur > 0 {
		l.replaceTPM(cur)
	}
	go cs.subscribe(l)
	return cs
}

func (cs *clusterSync) subscribe(l *Limiter) {
	sub := cs.rdb.Subscribe(context.Background(), cs.ch)
	defer sub.Close()
	for range sub.Channel() {
		if cur, err := cs.rdb.Get(context.Background(), cs.key).Float64(); err == nil && cur > 0 {
			l.replaceTPM(cur)
		}
	}
}

func (cs *clusterSync) publishBackoff(floor float64) {
	cs.applyAndPublish(func(cur float64) float64 {
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		return next
	})
}

func (cs *clusterSync) publishProbe(step, ceiling float64) {
	cs.applyAndPublish(func(cur float64) float64 {
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		return next
	})
}

func (cs *clusterSync) applyAndPublish(adjust func(float64) float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cur, err := cs.rdb.Get(ctx, cs.key).Float64()
	if err != nil {
		return
	}
	next := adjust(cur)
	if err := cs.rdb.Set(ctx, cs.key, strconv.Itoa(int(next)), 0).Err(); err != nil {
		return
	}
	cs.rdb.Publish(ctx, cs.ch, "updated")
}
