// Package ratelimit caps how often activation payloads can be issued
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketActivationQuota = []byte("activation_quota")

// Level names the scope a quota applies to
type Level string

const (
	LevelGlobal  Level = "global"
	LevelClient  Level = "client"
	LevelMailbox Level = "mailbox"
)

// Config contains activation quota configuration
type Config struct {
	Global     *Quota `yaml:"global,omitempty"`
	PerClient  *Quota `yaml:"per_client,omitempty"`
	PerMailbox *Quota `yaml:"per_mailbox,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// Enabled reports whether any quota is configured
func (c *Config) Enabled() bool {
	return c != nil && (c.Global != nil || c.PerClient != nil || c.PerMailbox != nil)
}

// Quota holds activation limits. Zero means unlimited.
type Quota struct {
	PerHour int `yaml:"per_hour" json:"per_hour"`
	PerDay  int `yaml:"per_day" json:"per_day"`
}

// Counter tracks one key's usage within its current windows
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Request identifies who is activating what
type Request struct {
	Client  string // client IP or API key
	Mailbox string // target mailbox
}

// Result contains the quota decision
type Result struct {
	Allowed    bool
	DeniedBy   Level
	RetryAfter time.Duration
}

// Limiter enforces activation quotas with counters persisted in BoltDB
type Limiter struct {
	db       *bolt.DB
	config   Config
	now      func() time.Time
	counters map[string]*Counter
	mu       sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewLimiter creates a limiter and restores persisted counters
func NewLimiter(db *bolt.DB, cfg Config) (*Limiter, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketActivationQuota)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		now:      time.Now,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load quota counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Allow consumes one activation from every applicable quota, or none when
// any of them is exhausted.
func (l *Limiter) Allow(ctx context.Context, req Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.checks(req)

	for _, check := range checks {
		counter := l.counter(check.key, now)

		if check.quota.PerHour > 0 && counter.HourlyCount >= check.quota.PerHour {
			return &Result{
				DeniedBy:   check.level,
				RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
			}, nil
		}
		if check.quota.PerDay > 0 && counter.DailyCount >= check.quota.PerDay {
			return &Result{
				DeniedBy:   check.level,
				RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
			}, nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return &Result{Allowed: true}, nil
}

// Usage returns the current counter for level and key
func (l *Limiter) Usage(level Level, key string) Counter {
	l.mu.Lock()
	defer l.mu.Unlock()

	counter, ok := l.counters[makeKey(level, key)]
	if !ok {
		return Counter{}
	}
	c := *counter
	resetExpired(&c, l.now())
	return c
}

// Stop ends background persistence and flushes counters
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		<-l.done
	})
	return l.persistCounters()
}

type check struct {
	level Level
	key   string
	quota *Quota
}

func (l *Limiter) checks(req Request) []check {
	var checks []check

	if l.config.Global != nil {
		checks = append(checks, check{LevelGlobal, makeKey(LevelGlobal, "global"), l.config.Global})
	}
	if req.Client != "" && l.config.PerClient != nil {
		checks = append(checks, check{LevelClient, makeKey(LevelClient, req.Client), l.config.PerClient})
	}
	if req.Mailbox != "" && l.config.PerMailbox != nil {
		checks = append(checks, check{LevelMailbox, makeKey(LevelMailbox, req.Mailbox), l.config.PerMailbox})
	}

	return checks
}

func (l *Limiter) counter(key string, now time.Time) *Counter {
	counter, ok := l.counters[key]
	if !ok {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[key] = counter
	}
	resetExpired(counter, now)
	return counter
}

func resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActivationQuota).ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // skip corrupt entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	snapshot := make(map[string][]byte, len(l.counters))
	for key, counter := range l.counters {
		data, err := json.Marshal(counter)
		if err != nil {
			continue
		}
		snapshot[key] = data
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketActivationQuota)
		for key, data := range snapshot {
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
