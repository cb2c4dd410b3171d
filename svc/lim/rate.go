// Package lim throttles write actions per submitter identifier using a
// sliding event window with an escalating temporary ban. State is held
// in process memory and is lost on restart; limits are best effort and
// NOT linearizable across multiple server instances. Run one instance
// per identifier space, or accept over-admission.
package lim

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"checkpost/cfg"
	"checkpost/metrics"
	"checkpost/svc/util"
)

type Kind int

const (
	KindRead Kind = iota
	KindWrite
)

const (
	maxIdentifiers  = 10000
	cleanupInterval = 5 * time.Minute
)

type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter struct {
	window      time.Duration
	maxWrites   int
	banDuration time.Duration

	global       *rate.Limiter
	conservative *rate.Limiter
	detector     *AnomalyDetector
	adaptiveMu   sync.RWMutex
	adaptiveTill time.Time

	mu      sync.Mutex
	history map[string][]time.Time
	bans    map[string]time.Time

	now  func() time.Time
	quit chan struct{}
}

func New(c cfg.RateLimitCfg) *Limiter {
	l := NewWithClock(c, time.Now)
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.cleanupLoop()
	return l
}

// NewWithClock builds a limiter with an injected clock and no background
// goroutines; intended for tests.
func NewWithClock(c cfg.RateLimitCfg, now func() time.Time) *Limiter {
	rpm := c.GlobalRPM
	if rpm <= 0 {
		rpm = 600
	}
	return &Limiter{
		window:       c.Window,
		maxWrites:    c.MaxWrites,
		banDuration:  c.BanDuration,
		global:       rate.NewLimiter(rate.Limit(rpm)/60.0, rpm/6+1),
		conservative: rate.NewLimiter(rate.Limit(rpm)/120.0, rpm/12+1),
		history:      make(map[string][]time.Time),
		bans:         make(map[string]time.Time),
		now:          now,
		quit:         make(chan struct{}),
	}
}

// Admit decides whether an action by identifier may proceed. Reads always
// pass. A write is denied while the identifier is temporarily banned or
// once it has exhausted the write budget inside the trailing window; the
// latter also starts a ban. The window clears only when a ban expires
// naturally.
func (l *Limiter) Admit(identifier string, kind Kind) Result {
	if kind != KindWrite {
		return Result{Allowed: true}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.bans[identifier]; ok {
		if now.Before(until) {
			metrics.RateLimitHits.Inc()
			return Result{Allowed: false, RetryAfter: until.Sub(now)}
		}
		delete(l.bans, identifier)
		delete(l.history, identifier)
	}

	if !l.globalLimiter().Allow() {
		metrics.RateLimitHits.Inc()
		return Result{Allowed: false, RetryAfter: time.Second}
	}

	events := l.prune(identifier, now)
	if len(events) >= l.maxWrites {
		until := now.Add(l.banDuration)
		l.bans[identifier] = until
		metrics.RateLimitHits.Inc()
		metrics.TempBans.Inc()
		util.Warn().
			Str("identifier", identifier).
			Dur("ban", l.banDuration).
			Msg("write threshold exceeded, temporary ban")
		return Result{Allowed: false, RetryAfter: l.banDuration}
	}

	if len(l.history) >= maxIdentifiers {
		if _, tracked := l.history[identifier]; !tracked {
			// At capacity: refuse new identifiers rather than evicting hot
			// ones mid-window.
			metrics.RateLimitHits.Inc()
			return Result{Allowed: false, RetryAfter: l.window}
		}
	}
	l.history[identifier] = append(events, now)
	return Result{Allowed: true}
}

// prune drops events older than the trailing window. Called with mu held.
func (l *Limiter) prune(identifier string, now time.Time) []time.Time {
	events := l.history[identifier]
	cutoff := now.Add(-l.window)
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.history, identifier)
		return nil
	}
	l.history[identifier] = kept
	return kept
}

func (l *Limiter) RecordRequest() {
	if l.detector != nil {
		l.detector.RecordRequest()
	}
}
func (l *Limiter) RecordError() {
	if l.detector != nil {
		l.detector.RecordError()
	}
}

// TriggerAdaptiveMode halves global write throughput for the next minute.
func (l *Limiter) TriggerAdaptiveMode() {
	l.adaptiveMu.Lock()
	l.adaptiveTill = l.now().Add(60 * time.Second)
	l.adaptiveMu.Unlock()
}

func (l *Limiter) globalLimiter() *rate.Limiter {
	l.adaptiveMu.RLock()
	adaptive := l.now().Before(l.adaptiveTill)
	l.adaptiveMu.RUnlock()
	if adaptive {
		return l.conservative
	}
	return l.global
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictStale()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) evictStale() {
	now := l.now()
	l.mu.Lock()
	evicted := 0
	for id, events := range l.history {
		if len(events) == 0 || !events[len(events)-1].After(now.Add(-l.window)) {
			delete(l.history, id)
			evicted++
		}
	}
	for id, until := range l.bans {
		if !now.Before(until) {
			delete(l.bans, id)
			delete(l.history, id)
		}
	}
	remaining := len(l.history)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter cleanup")
	}
}

func (l *Limiter) Stop() {
	close(l.quit)
	if l.detector != nil {
		l.detector.Stop()
	}
}
