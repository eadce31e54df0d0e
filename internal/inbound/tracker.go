// Package inbound is the chat inbound-detection pipeline: per-tick
// signal collection (structural tree diff, pixel hash + OCR, OS
// notification banners), score fusion, sanitization, echo suppression,
// and duplicate dropping. Each tick emits at most one event.
package inbound

import (
	"strings"
	"sync"
	"time"
)

const (
	// echoWindow is how long after a send an inbound candidate can be
	// attributed to our own message.
	echoWindow = 8 * time.Second
	// trackerCap bounds the recent-send log.
	trackerCap = 8
)

type sendRecord struct {
	at   time.Time
	text string
}

// RecentSendTracker remembers the daemon's own recent outbound sends so
// detections of them are re-typed echo_message instead of
// inbound_message.
type RecentSendTracker struct {
	mu      sync.Mutex
	records []sendRecord
	nowFunc func() time.Time
}

func NewRecentSendTracker() *RecentSendTracker {
	return &RecentSendTracker{nowFunc: time.Now}
}

// RecordSend logs one outbound send.
func (t *RecentSendTracker) RecordSend(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, sendRecord{at: t.nowFunc(), text: Normalize(text)})
	if len(t.records) > trackerCap {
		t.records = t.records[len(t.records)-trackerCap:]
	}
}

// IsLikelyEcho classifies candidate text. In legacy mode the normalized
// text must match a recent send; in fusion mode any send inside the
// window counts, because OCR over the whole chat area cannot be
// attributed to one bubble reliably.
func (t *RecentSendTracker) IsLikelyEcho(text string, fusionMode bool) bool {
	now := t.nowFunc()
	norm := Normalize(text)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.records {
		if now.Sub(rec.at) > echoWindow {
			continue
		}
		if fusionMode || rec.text == norm {
			return true
		}
	}
	return false
}

// Normalize lowercases and collapses whitespace for comparisons.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint builds the dedup key for one emission.
func Fingerprint(conversation, text string) string {
	return strings.ToLower(conversation) + "|" + Normalize(text)
}
