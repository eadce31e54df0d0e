package stats

import (
	"testing"
	"time"

	"clawgate/internal/claw"
	"clawgate/internal/db"
)

func TestIncrement_CountsAndStampsRange(t *testing.T) {
	c := New()
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.Local)
	c.nowFunc = func() time.Time { return base }
	c.Increment(KeyLineSent)
	base = base.Add(time.Hour)
	c.Increment(KeyLineSent)
	c.Increment(KeyAPIRequests)

	today := c.Today()
	if today.Counters[KeyLineSent] != 2 {
		t.Fatalf("expected line_sent=2, got %d", today.Counters[KeyLineSent])
	}
	if today.Counters[KeyAPIRequests] != 1 {
		t.Fatalf("expected api_requests=1, got %d", today.Counters[KeyAPIRequests])
	}
	if !today.LastEventAt.After(today.FirstEventAt) {
		t.Fatalf("expected last after first, got %v / %v", today.FirstEventAt, today.LastEventAt)
	}
}

func TestHandleEvent_Classifies(t *testing.T) {
	c := New()
	c.HandleEvent(claw.Event{Type: claw.EventInboundMessage, Adapter: claw.AdapterLine})
	c.HandleEvent(claw.Event{Type: claw.EventEchoMessage, Adapter: claw.AdapterLine})
	c.HandleEvent(claw.Event{Type: claw.EventTmuxQuestion, Adapter: claw.AdapterTmux})
	c.HandleEvent(claw.Event{
		Type: claw.EventInboundMessage, Adapter: claw.AdapterTmux,
		Payload: map[string]string{claw.PayloadSource: "completion"},
	})

	today := c.Today()
	if today.Counters[KeyLineReceived] != 1 || today.Counters[KeyLineEcho] != 1 {
		t.Fatalf("line classification broken: %+v", today.Counters)
	}
	if today.Counters[KeyTmuxQuestion] != 1 || today.Counters[KeyTmuxCompletion] != 1 {
		t.Fatalf("tmux classification broken: %+v", today.Counters)
	}
}

func TestPrune_DropsBucketsPast90Days(t *testing.T) {
	c := New()
	old := time.Now().AddDate(0, 0, -120)
	c.nowFunc = func() time.Time { return old }
	c.Increment(KeyLineSent)

	c.nowFunc = time.Now
	c.Increment(KeyLineSent)

	if got := len(c.buckets); got != 1 {
		t.Fatalf("expected stale bucket pruned, have %d buckets", got)
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	c := New(WithDB(gdb))
	c.Increment(KeyTmuxSent)
	c.Increment(KeyTmuxSent)

	reloaded := New(WithDB(gdb))
	if got := reloaded.Today().Counters[KeyTmuxSent]; got != 2 {
		t.Fatalf("expected tmux_sent=2 after reload, got %d", got)
	}
}

func TestLastDays_NewestFirstSkipsEmpty(t *testing.T) {
	c := New()
	day := time.Now().AddDate(0, 0, -2)
	c.nowFunc = func() time.Time { return day }
	c.Increment(KeyLineSent)
	c.nowFunc = time.Now
	c.Increment(KeyLineReceived)

	days := c.LastDays(7)
	if len(days) != 2 {
		t.Fatalf("expected 2 non-empty days, got %d", len(days))
	}
	if days[0].Date <= days[1].Date {
		t.Fatalf("expected newest first, got %s then %s", days[0].Date, days[1].Date)
	}
}
