// Package stats keeps daily counters over a fixed key set, persisted as
// sqlite buckets keyed by local date. Buckets older than 90 days are
// pruned on write.
package stats

import (
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"clawgate/internal/claw"
	"clawgate/internal/db"
)

// Counter keys.
const (
	KeyLineSent       = "line_sent"
	KeyLineReceived   = "line_received"
	KeyLineEcho       = "line_echo"
	KeyTmuxSent       = "tmux_sent"
	KeyTmuxCompletion = "tmux_completion"
	KeyTmuxQuestion   = "tmux_question"
	KeyAPIRequests    = "api_requests"
)

const retentionDays = 90

// Day is one bucket as reported over the API.
type Day struct {
	Date         string           `json:"date"`
	Counters     map[string]int64 `json:"counters"`
	FirstEventAt time.Time        `json:"first_event_at,omitempty"`
	LastEventAt  time.Time        `json:"last_event_at,omitempty"`
}

// Collector accumulates counters in memory and mirrors them to sqlite
// through the utility executor.
type Collector struct {
	mu      sync.Mutex
	buckets map[string]*db.DayStatsBucket

	gdb     *gorm.DB
	persist func(func())
	nowFunc func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithDB enables sqlite persistence and loads existing buckets.
func WithDB(gdb *gorm.DB) Option {
	return func(c *Collector) { c.gdb = gdb }
}

// WithPersistExecutor routes durable writes off the hot path.
func WithPersistExecutor(exec func(func())) Option {
	return func(c *Collector) { c.persist = exec }
}

func New(opts ...Option) *Collector {
	c := &Collector{
		buckets: map[string]*db.DayStatsBucket{},
		persist: func(fn func()) { fn() },
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gdb != nil {
		var rows []db.DayStatsBucket
		if err := c.gdb.Find(&rows).Error; err == nil {
			for i := range rows {
				row := rows[i]
				c.buckets[row.Date] = &row
			}
		}
	}
	return c
}

// Increment bumps one counter for today and stamps the event-time range.
func (c *Collector) Increment(key string) {
	now := c.nowFunc()
	date := now.Format("2006-01-02")

	c.mu.Lock()
	bucket, ok := c.buckets[date]
	if !ok {
		bucket = &db.DayStatsBucket{Date: date}
		c.buckets[date] = bucket
	}
	switch key {
	case KeyLineSent:
		bucket.LineSent++
	case KeyLineReceived:
		bucket.LineReceived++
	case KeyLineEcho:
		bucket.LineEcho++
	case KeyTmuxSent:
		bucket.TmuxSent++
	case KeyTmuxCompletion:
		bucket.TmuxCompletion++
	case KeyTmuxQuestion:
		bucket.TmuxQuestion++
	case KeyAPIRequests:
		bucket.APIRequests++
	default:
		c.mu.Unlock()
		return
	}
	if bucket.FirstEventAt == 0 {
		bucket.FirstEventAt = now.UnixMilli()
	}
	bucket.LastEventAt = now.UnixMilli()
	c.pruneLocked(now)
	row := *bucket
	c.mu.Unlock()

	if c.gdb != nil {
		gdb := c.gdb
		cutoff := now.AddDate(0, 0, -retentionDays).Format("2006-01-02")
		c.persist(func() {
			_ = gdb.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "date"}},
				UpdateAll: true,
			}).Create(&row).Error
			_ = gdb.Where("date < ?", cutoff).Delete(&db.DayStatsBucket{}).Error
		})
	}
}

func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -retentionDays).Format("2006-01-02")
	for date := range c.buckets {
		if date < cutoff {
			delete(c.buckets, date)
		}
	}
}

// HandleEvent classifies an event-bus append into a counter bump. Wired
// as an EventBus subscriber.
func (c *Collector) HandleEvent(evt claw.Event) {
	switch evt.Adapter {
	case claw.AdapterLine:
		switch evt.Type {
		case claw.EventInboundMessage:
			c.Increment(KeyLineReceived)
		case claw.EventEchoMessage:
			c.Increment(KeyLineEcho)
		case claw.EventOutboundMessage:
			c.Increment(KeyLineSent)
		}
	case claw.AdapterTmux:
		switch evt.Type {
		case claw.EventOutboundMessage:
			c.Increment(KeyTmuxSent)
		case claw.EventTmuxCompletion:
			c.Increment(KeyTmuxCompletion)
		case claw.EventTmuxQuestion:
			c.Increment(KeyTmuxQuestion)
		case claw.EventInboundMessage:
			if evt.Payload[claw.PayloadSource] == "completion" {
				c.Increment(KeyTmuxCompletion)
			}
		}
	}
}

// Today returns the current day's bucket.
func (c *Collector) Today() Day {
	return c.day(c.nowFunc().Format("2006-01-02"))
}

// LastDays returns up to n buckets ending today, newest first. Days with
// no activity are omitted.
func (c *Collector) LastDays(n int) []Day {
	if n <= 0 {
		n = 7
	}
	now := c.nowFunc()
	out := make([]Day, 0, n)
	for i := 0; i < n; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		c.mu.Lock()
		_, ok := c.buckets[date]
		c.mu.Unlock()
		if ok {
			out = append(out, c.day(date))
		}
	}
	return out
}

func (c *Collector) day(date string) Day {
	c.mu.Lock()
	defer c.mu.Unlock()
	day := Day{Date: date, Counters: map[string]int64{
		KeyLineSent: 0, KeyLineReceived: 0, KeyLineEcho: 0,
		KeyTmuxSent: 0, KeyTmuxCompletion: 0, KeyTmuxQuestion: 0,
		KeyAPIRequests: 0,
	}}
	bucket, ok := c.buckets[date]
	if !ok {
		return day
	}
	day.Counters[KeyLineSent] = bucket.LineSent
	day.Counters[KeyLineReceived] = bucket.LineReceived
	day.Counters[KeyLineEcho] = bucket.LineEcho
	day.Counters[KeyTmuxSent] = bucket.TmuxSent
	day.Counters[KeyTmuxCompletion] = bucket.TmuxCompletion
	day.Counters[KeyTmuxQuestion] = bucket.TmuxQuestion
	day.Counters[KeyAPIRequests] = bucket.APIRequests
	if bucket.FirstEventAt > 0 {
		day.FirstEventAt = time.UnixMilli(bucket.FirstEventAt)
	}
	if bucket.LastEventAt > 0 {
		day.LastEventAt = time.UnixMilli(bucket.LastEventAt)
	}
	return day
}
