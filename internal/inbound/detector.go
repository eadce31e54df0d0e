package inbound

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"clawgate/internal/ax"
	"clawgate/internal/claw"
	"clawgate/internal/config"
	"clawgate/internal/worker"
)

const (
	tickSoftTimeout = 30 * time.Second
	dedupWindow     = 20 * time.Second
	scanDepth       = 8
	scanNodes       = 500
	timeoutsToReset = 2
)

// Detector runs the periodic inbound-message scan for the chat app. All
// accessibility and screen work happens on the serial worker queue; the
// detector only schedules ticks and publishes results.
type Detector struct {
	cfg      func() config.Config
	gw       ax.Gateway
	queue    *worker.Queue
	sink     claw.EventSink
	tracker  *RecentSendTracker
	observer ax.NotificationObserver
	logger   *slog.Logger

	structural   *structuralSignal
	pixel        *pixelSignal
	notification *notificationSignal

	bundleID string
	appLabel string
	nowFunc  func() time.Time

	mu              sync.Mutex
	inFlight        bool
	generation      uint64
	timeoutStreak   int
	skippedTicks    int64
	lastFingerprint string
	lastEmitAt      time.Time
}

// DetectorOption tweaks detector construction.
type DetectorOption func(*Detector)

// WithDetectorBundleID overrides the chat app bundle identifier.
func WithDetectorBundleID(id string) DetectorOption {
	return func(d *Detector) { d.bundleID = id }
}

// WithDetectorAppLabel overrides the notification app label filter.
func WithDetectorAppLabel(label string) DetectorOption {
	return func(d *Detector) { d.appLabel = label }
}

func NewDetector(
	cfg func() config.Config,
	gw ax.Gateway,
	capturer ax.ScreenCapturer,
	ocr ax.OCREngine,
	observer ax.NotificationObserver,
	queue *worker.Queue,
	sink claw.EventSink,
	tracker *RecentSendTracker,
	logger *slog.Logger,
	opts ...DetectorOption,
) *Detector {
	d := &Detector{
		cfg:      cfg,
		gw:       gw,
		queue:    queue,
		sink:     sink,
		tracker:  tracker,
		observer: observer,
		logger:   logger,
		bundleID: "jp.naver.line.mac",
		appLabel: "LINE",
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.structural = newStructuralSignal(capturer, ocr, logger)
	d.pixel = newPixelSignal(capturer, ocr, logger)
	d.notification = newNotificationSignal(d.appLabel)
	return d
}

// Run drives the tick loop until ctx is done. The interval is re-read
// from config on every tick so live reloads take effect.
func (d *Detector) Run(ctx context.Context) error {
	if d.observer != nil {
		if err := d.observer.Start(ctx); err != nil {
			d.logger.Warn("notification observer unavailable", "error", err)
		} else {
			go d.forwardBanners(ctx)
		}
	}

	for {
		interval := time.Duration(d.cfg().Line.PollIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 3 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			d.scheduleTick()
		}
	}
}

func (d *Detector) forwardBanners(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case banner, ok := <-d.observer.Banners():
			if !ok {
				return
			}
			d.notification.Offer(banner)
		}
	}
}

// SkippedTicks reports how many ticks were dropped because the previous
// one was still running.
func (d *Detector) SkippedTicks() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skippedTicks
}

// scheduleTick submits one scan to the serial queue. A tick that
// overlaps a still-running one is counted and dropped, never queued.
func (d *Detector) scheduleTick() {
	if !d.cfg().Line.Enabled {
		return
	}
	d.mu.Lock()
	if d.inFlight {
		d.skippedTicks++
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	gen := d.generation
	d.mu.Unlock()

	done := make(chan Decision, 1)
	submitted := d.queue.Submit(func() {
		done <- d.collect()
	})
	if !submitted {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
		return
	}

	go func() {
		timer := time.NewTimer(tickSoftTimeout)
		defer timer.Stop()
		select {
		case decision := <-done:
			d.mu.Lock()
			stale := d.generation != gen
			d.timeoutStreak = 0
			d.inFlight = false
			d.mu.Unlock()
			if !stale {
				d.emit(decision)
			}
		case <-timer.C:
			// The worker is wedged on accessibility or OCR; abandon the
			// result and let the next tick through. The job itself cannot
			// be interrupted, so its late result is discarded by the
			// generation bump.
			d.mu.Lock()
			d.generation++
			d.timeoutStreak++
			streak := d.timeoutStreak
			d.inFlight = false
			d.mu.Unlock()
			d.logger.Warn("inbound tick timed out", "streak", streak)
			if streak >= timeoutsToReset {
				d.queue.Submit(d.resetBaselines)
			}
			go func() { <-done }()
		}
	}()
}

func (d *Detector) resetBaselines() {
	d.structural.reset()
	d.pixel.reset()
	d.notification.reset()
	d.mu.Lock()
	d.timeoutStreak = 0
	d.mu.Unlock()
}

// collect runs on the serial queue: gate on the app being frontmost,
// gather the enabled signals, and decide.
func (d *Detector) collect() Decision {
	cfg := d.cfg()

	pid, running := d.gw.AppPID(d.bundleID)
	if !running {
		return Decision{}
	}
	if d.gw.FrontmostPID() != pid {
		// Scanning a backgrounded window produces stale frames and
		// misclassified rows; wait until the app is frontmost.
		return Decision{}
	}
	window, err := d.gw.FocusedWindow(pid, scanDepth, scanNodes)
	if err != nil || window == nil {
		return Decision{}
	}

	conversation := strings.TrimSpace(window.Title)
	if conversation == "" {
		conversation = cfg.Line.DefaultConversation
	}

	var signals []Signal
	if cfg.Line.SignalStructural {
		if sig := d.structural.collect(window, conversation); sig != nil {
			signals = append(signals, *sig)
		}
	}
	if cfg.Line.SignalPixel {
		if sig := d.pixel.collect(window, conversation); sig != nil {
			signals = append(signals, *sig)
		}
	}
	if cfg.Line.SignalNotification {
		if sig := d.notification.collect(); sig != nil {
			signals = append(signals, *sig)
		}
	}
	if len(signals) == 0 {
		return Decision{}
	}

	var decision Decision
	if cfg.Line.DetectionMode == config.DetectionFusion {
		decision = Fuse(signals, cfg.Line.FusionThreshold, d.tracker)
	} else {
		decision = DecideLegacy(signals, d.tracker)
	}
	decision.Text = Sanitize(decision.Text, window.Title)
	return decision
}

// emit publishes at most one event per tick, deduplicating repeated
// captures of the same conversation text within a short window.
func (d *Detector) emit(decision Decision) {
	if !decision.ShouldEmit || strings.TrimSpace(decision.Text) == "" {
		return
	}

	// Only true inbound emissions arm the dedup fingerprint. An echo
	// classification must not suppress the same text arriving as a
	// legitimate inbound message once the echo window has lapsed.
	if decision.EventType == claw.EventInboundMessage {
		now := d.nowFunc()
		fp := Fingerprint(decision.Conversation, decision.Text)
		d.mu.Lock()
		if fp == d.lastFingerprint && now.Sub(d.lastEmitAt) < dedupWindow {
			d.mu.Unlock()
			return
		}
		d.lastFingerprint = fp
		d.lastEmitAt = now
		d.mu.Unlock()
	}

	payload := map[string]string{
		claw.PayloadText:            decision.Text,
		claw.PayloadConversation:    decision.Conversation,
		claw.PayloadSource:          decision.Source,
		claw.PayloadConfidence:      decision.Confidence,
		claw.PayloadScore:           strconv.Itoa(decision.Score),
		claw.PayloadSignals:         strings.Join(decision.Signals, ","),
		claw.PayloadPipelineVersion: PipelineVersion,
	}
	if _, err := d.sink.Append(decision.EventType, claw.AdapterLine, payload); err != nil {
		d.logger.Warn("inbound event append failed", "error", err)
		return
	}
	d.logger.Info("inbound message detected",
		"conversation", decision.Conversation,
		"source", decision.Source,
		"score", decision.Score,
		"confidence", decision.Confidence,
	)
}
