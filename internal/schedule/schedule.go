// Package schedule implements the remote trading-schedule document fetcher
// (§4.2): a 300-second-cadence HTTPS GET, a single-writer refresh guard, and
// is_active()/lot_coefficient() queries against the last good snapshot. The
// resty client setup follows the same pattern as internal/exchange/restclient.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/core"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const refreshInterval = 300 * time.Second

// Interval is one half-open [From, To) window with its size coefficient.
type Interval struct {
	From           time.Time
	To             time.Time
	LotCoefficient decimal.Decimal
	Label          string
}

func (iv Interval) contains(t time.Time) bool {
	return !t.Before(iv.From) && t.Before(iv.To)
}

// rawDoc mirrors the schedule document's two accepted shapes: schedules as
// an object keyed by type, or a bare list (§6.2).
type rawDoc struct {
	Schedules json.RawMessage `json:"schedules"`
}

type rawInterval struct {
	From           string          `json:"from"`
	To             string          `json:"to"`
	LotCoefficient decimal.Decimal `json:"lot_coefficient"`
	Title          string          `json:"title"`
}

// Manager fetches and caches the schedule document for one schedule type.
type Manager struct {
	http         *resty.Client
	url          string
	scheduleType string
	logger       core.ILogger

	refreshing int32 // single-writer guard (§5)

	mu        sync.RWMutex
	intervals []Interval
	lastFetch time.Time
}

// New builds a Manager. url is the schedule document endpoint;
// scheduleType selects which key of the schedules object to read (or is
// ignored if the document is a bare list).
func New(url, scheduleType string, logger core.ILogger) *Manager {
	return &Manager{
		http:         resty.New().SetTimeout(10 * time.Second),
		url:          url,
		scheduleType: scheduleType,
		logger:       logger,
	}
}

// RefreshIfDue fetches a new document if refreshInterval has elapsed since
// the last successful fetch. A fetch failure never clears the last good
// list (§4.2); the engine continues on the last snapshot.
func (m *Manager) RefreshIfDue(ctx context.Context) {
	m.mu.RLock()
	due := time.Since(m.lastFetch) >= refreshInterval
	m.mu.RUnlock()
	if !due {
		return
	}

	if !atomic.CompareAndSwapInt32(&m.refreshing, 0, 1) {
		return // a refresh is already in flight
	}
	defer atomic.StoreInt32(&m.refreshing, 0)

	intervals, err := m.fetch(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("schedule refresh failed, keeping last snapshot", "error", err)
		}
		return
	}

	m.mu.Lock()
	m.intervals = intervals
	m.lastFetch = time.Now()
	m.mu.Unlock()
}

func (m *Manager) fetch(ctx context.Context) ([]Interval, error) {
	var doc rawDoc
	resp, err := m.http.R().SetContext(ctx).SetResult(&doc).Get(m.url)
	if err != nil {
		return nil, fmt.Errorf("schedule fetch: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("schedule fetch: status %d", resp.StatusCode())
	}

	var raws []rawInterval
	if len(doc.Schedules) > 0 {
		// Either a bare list, or an object keyed by schedule type.
		if doc.Schedules[0] == '[' {
			if err := json.Unmarshal(doc.Schedules, &raws); err != nil {
				return nil, fmt.Errorf("schedule parse (list): %w", err)
			}
		} else {
			var byType map[string][]rawInterval
			if err := json.Unmarshal(doc.Schedules, &byType); err != nil {
				return nil, fmt.Errorf("schedule parse (object): %w", err)
			}
			raws = byType[m.scheduleType]
		}
	}

	out := make([]Interval, 0, len(raws))
	for _, r := range raws {
		from, err := parseTimestamp(r.From)
		if err != nil {
			return nil, fmt.Errorf("schedule interval 'from': %w", err)
		}
		to, err := parseTimestamp(r.To)
		if err != nil {
			return nil, fmt.Errorf("schedule interval 'to': %w", err)
		}
		out = append(out, Interval{From: from, To: to, LotCoefficient: r.LotCoefficient, Label: r.Title})
	}
	return out, nil
}

// parseTimestamp interprets a timestamp lacking a timezone as UTC (§4.2).
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// IsActive reports whether now falls inside any cached interval.
func (m *Manager) IsActive(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, iv := range m.intervals {
		if iv.contains(now) {
			return true
		}
	}
	return false
}

// LotCoefficient returns the active interval's coefficient, or zero when
// now falls outside every interval.
func (m *Manager) LotCoefficient(now time.Time) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, iv := range m.intervals {
		if iv.contains(now) {
			return iv.LotCoefficient
		}
	}
	return decimal.Zero
}
