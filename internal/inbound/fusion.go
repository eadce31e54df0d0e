package inbound

import (
	"strings"

	"clawgate/internal/claw"
)

// PipelineVersion is stamped into every emitted payload.
const PipelineVersion = "2"

// Confidence bands.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Decision is the per-tick outcome of signal fusion.
type Decision struct {
	ShouldEmit   bool
	EventType    string
	Text         string
	Conversation string
	Source       string
	Score        int
	Confidence   string
	Signals      []string
}

// Fuse sums signal scores (capped at 100), takes the strongest signal's
// text and conversation as the decision, and emits when the sum meets
// the threshold (inclusive). Echoes are re-typed, not dropped.
func Fuse(signals []Signal, threshold int, tracker *RecentSendTracker) Decision {
	if len(signals) == 0 {
		return Decision{}
	}

	sum := 0
	best := signals[0]
	names := make([]string, 0, len(signals))
	for _, sig := range signals {
		sum += sig.Score
		names = append(names, sig.Name)
		if sig.Score > best.Score {
			best = sig
		}
	}
	if sum > 100 {
		sum = 100
	}

	decision := Decision{
		Text:         best.Text,
		Conversation: best.Conversation,
		Source:       best.Name,
		Score:        sum,
		Confidence:   confidenceFor(sum),
		Signals:      names,
		ShouldEmit:   sum >= threshold,
	}
	decision.EventType = claw.EventInboundMessage
	if tracker != nil && tracker.IsLikelyEcho(decision.Text, true) {
		decision.EventType = claw.EventEchoMessage
	}
	return decision
}

// DecideLegacy skips fusion: the first signal with non-empty text wins,
// carrying its own score and name.
func DecideLegacy(signals []Signal, tracker *RecentSendTracker) Decision {
	for _, sig := range signals {
		if strings.TrimSpace(sig.Text) == "" {
			continue
		}
		decision := Decision{
			ShouldEmit:   true,
			Text:         sig.Text,
			Conversation: sig.Conversation,
			Source:       sig.Name,
			Score:        sig.Score,
			Confidence:   confidenceFor(sig.Score),
			Signals:      []string{sig.Name},
		}
		decision.EventType = claw.EventInboundMessage
		if tracker != nil && tracker.IsLikelyEcho(sig.Text, false) {
			decision.EventType = claw.EventEchoMessage
		}
		return decision
	}
	return Decision{}
}

func confidenceFor(score int) string {
	switch {
	case score >= 80:
		return ConfidenceHigh
	case score >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
