package inbound

import (
	"testing"
	"time"

	"clawgate/internal/claw"
)

func TestFuseThresholdInclusive(t *testing.T) {
	signals := []Signal{
		{Name: SignalPixel, Score: 35, Text: "hello"},
		{Name: SignalStructural, Score: 25, Text: "hello there", Conversation: "alice"},
	}
	d := Fuse(signals, 60, nil)
	if !d.ShouldEmit {
		t.Fatalf("sum 60 at threshold 60 must emit")
	}
	if d.Score != 60 {
		t.Fatalf("score = %d, want 60", d.Score)
	}
	if d.Text != "hello" || d.Source != SignalPixel {
		t.Fatalf("decision must carry the strongest signal, got text=%q source=%q", d.Text, d.Source)
	}

	d = Fuse(signals, 61, nil)
	if d.ShouldEmit {
		t.Fatalf("sum 60 below threshold 61 must not emit")
	}
}

func TestFuseCapsAtHundred(t *testing.T) {
	signals := []Signal{
		{Name: SignalStructural, Score: 70, Text: "a"},
		{Name: SignalPixel, Score: 62, Text: "b"},
	}
	d := Fuse(signals, 60, nil)
	if d.Score != 100 {
		t.Fatalf("score = %d, want 100", d.Score)
	}
	if d.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %q, want %q", d.Confidence, ConfidenceHigh)
	}
}

func TestFuseConfidenceBands(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{80, ConfidenceHigh},
		{79, ConfidenceMedium},
		{50, ConfidenceMedium},
		{49, ConfidenceLow},
	}
	for _, tc := range cases {
		if got := confidenceFor(tc.score); got != tc.want {
			t.Errorf("confidenceFor(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestFuseRetypesEcho(t *testing.T) {
	now := time.Now()
	tracker := NewRecentSendTracker()
	tracker.nowFunc = func() time.Time { return now }
	tracker.RecordSend("deploy it")

	signals := []Signal{{Name: SignalStructural, Score: 70, Text: "something unrelated"}}

	tracker.nowFunc = func() time.Time { return now.Add(5 * time.Second) }
	d := Fuse(signals, 60, tracker)
	if d.EventType != claw.EventEchoMessage {
		t.Fatalf("5s after send: type = %q, want echo_message", d.EventType)
	}

	tracker.nowFunc = func() time.Time { return now.Add(9 * time.Second) }
	d = Fuse(signals, 60, tracker)
	if d.EventType != claw.EventInboundMessage {
		t.Fatalf("9s after send: type = %q, want inbound_message", d.EventType)
	}
}

func TestDecideLegacySkipsEmptyAndMatchesExactly(t *testing.T) {
	signals := []Signal{
		{Name: SignalPixel, Score: 35, Text: "   "},
		{Name: SignalStructural, Score: 58, Text: "pong", Conversation: "bob"},
	}
	d := DecideLegacy(signals, nil)
	if !d.ShouldEmit || d.Source != SignalStructural || d.Score != 58 {
		t.Fatalf("legacy decision = %+v", d)
	}

	tracker := NewRecentSendTracker()
	tracker.RecordSend("PONG")
	d = DecideLegacy(signals, tracker)
	if d.EventType != claw.EventEchoMessage {
		t.Fatalf("legacy normalized match must re-type, got %q", d.EventType)
	}

	tracker2 := NewRecentSendTracker()
	tracker2.RecordSend("a different message")
	d = DecideLegacy(signals, tracker2)
	if d.EventType != claw.EventInboundMessage {
		t.Fatalf("legacy non-matching send must stay inbound, got %q", d.EventType)
	}
}
