package inbound

import (
	"strings"
	"sync"

	"clawgate/internal/ax"
)

// scoreNotification reflects banner text being high-confidence but the
// channel fragile under Do-Not-Disturb.
const scoreNotification = 80

// notificationSignal buffers banners from the OS notification observer
// and drains them on the next tick. Only banners from the chat app
// count.
type notificationSignal struct {
	appLabel string

	mu      sync.Mutex
	pending []ax.Banner
}

func newNotificationSignal(appLabel string) *notificationSignal {
	return &notificationSignal{appLabel: appLabel}
}

// Offer ingests one banner; called from the observer's goroutine.
func (s *notificationSignal) Offer(banner ax.Banner) {
	if !strings.EqualFold(strings.TrimSpace(banner.App), s.appLabel) {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, banner)
	if len(s.pending) > 16 {
		s.pending = s.pending[len(s.pending)-16:]
	}
	s.mu.Unlock()
}

func (s *notificationSignal) reset() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// collect drains pending banners into one signal. Banner texts arrive
// either as [sender, message] pairs or as a single "sender: message".
func (s *notificationSignal) collect() *Signal {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	last := pending[len(pending)-1]
	sender, message := SplitBanner(last)
	if message == "" {
		return nil
	}
	return &Signal{
		Name:         SignalNotification,
		Score:        scoreNotification,
		Text:         message,
		Conversation: sender,
	}
}

// SplitBanner decomposes a banner into sender and message.
func SplitBanner(banner ax.Banner) (sender, message string) {
	sender = strings.TrimSpace(banner.Sender)
	message = strings.TrimSpace(banner.Message)
	if sender != "" && message != "" {
		return sender, message
	}
	// Single-text banners fold both into "sender: message".
	text := message
	if text == "" {
		text = sender
	}
	if idx := strings.Index(text, ": "); idx > 0 {
		return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+2:])
	}
	return "", text
}
