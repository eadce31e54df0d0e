package inbound

import (
	"image"
	"log/slog"

	"clawgate/internal/ax"
	"clawgate/internal/line"
)

// Signal names.
const (
	SignalStructural   = "structural"
	SignalPixel        = "pixel"
	SignalNotification = "notification"
)

// Structural scores.
const (
	scoreRowCountChanged = 70
	scoreBottomGeometry  = 58
)

// Signal is one collected detection signal, score in [0,100].
type Signal struct {
	Name         string
	Score        int
	Text         string
	Conversation string
}

type rowSnapshot struct {
	Y, H float64
}

// structuralSignal diffs the chat-list row geometry between ticks and
// OCRs new inbound bottom rows.
type structuralSignal struct {
	capturer ax.ScreenCapturer
	ocr      ax.OCREngine
	logger   *slog.Logger

	prevRows []rowSnapshot
	primed   bool
}

func newStructuralSignal(capturer ax.ScreenCapturer, ocr ax.OCREngine, logger *slog.Logger) *structuralSignal {
	return &structuralSignal{capturer: capturer, ocr: ocr, logger: logger}
}

func (s *structuralSignal) reset() {
	s.prevRows = nil
	s.primed = false
}

// collect compares the row layout against the previous tick. A signal is
// produced iff the row count changed or the bottom row's Y/height moved.
func (s *structuralSignal) collect(window *ax.Node, conversation string) *Signal {
	list := line.FindChatList(window, 8, 500)
	if list == nil {
		return nil
	}
	rows := line.Rows(list)
	snap := make([]rowSnapshot, len(rows))
	for i, row := range rows {
		snap[i] = rowSnapshot{Y: row.Frame.Y, H: row.Frame.H}
	}

	prev := s.prevRows
	primed := s.primed
	s.prevRows = snap
	s.primed = true
	if !primed || len(rows) == 0 {
		return nil
	}

	countChanged := len(snap) != len(prev)
	bottomChanged := false
	if !countChanged {
		last := snap[len(snap)-1]
		prevLast := prev[len(prev)-1]
		bottomChanged = last.Y != prevLast.Y || last.H != prevLast.H
	}
	if !countChanged && !bottomChanged {
		return nil
	}

	bottom := rows[len(rows)-1]
	dir := line.ClassifyRowByGeometry(bottom.Frame, list.Frame)
	if dir == line.RowUnknown {
		dir = s.classifyByColor(bottom.Frame, dir)
	}
	if dir == line.RowUnknown {
		dir = line.ClassifyRowByText(bottom)
	}
	if dir == line.RowOutbound {
		return nil
	}

	text := s.ocrRow(bottom.Frame)
	score := scoreBottomGeometry
	if countChanged {
		score = scoreRowCountChanged
	}
	return &Signal{Name: SignalStructural, Score: score, Text: text, Conversation: conversation}
}

// Outgoing bubbles are greenish, incoming greyish. Sampled only inside
// the neutral band where geometry is inconclusive.
func (s *structuralSignal) classifyByColor(row ax.Rect, fallback line.RowDirection) line.RowDirection {
	img, err := s.capturer.Capture(row)
	if err != nil || img == nil {
		return fallback
	}
	r, g, b := averageRGB(img)
	// Greenish: green dominates both channels by a clear margin.
	if g > r+12 && g > b+12 {
		return line.RowOutbound
	}
	// Greyish: channels nearly equal.
	if absDiff(r, g) < 14 && absDiff(g, b) < 14 {
		return line.RowInbound
	}
	return fallback
}

// ocrRow reads the row crop plus a short tail slice under it and merges
// unique lines in order.
func (s *structuralSignal) ocrRow(row ax.Rect) string {
	text := s.ocrRect(row)
	tail := ax.Rect{X: row.X, Y: row.Y + row.H, W: row.W, H: row.H / 2}
	return MergeUniqueLines(text, s.ocrRect(tail))
}

func (s *structuralSignal) ocrRect(rect ax.Rect) string {
	img, err := s.capturer.Capture(rect)
	if err != nil || img == nil {
		return ""
	}
	lines, err := s.ocr.RecognizeLines(img)
	if err != nil {
		s.logger.Debug("row ocr failed", "err", err)
		return ""
	}
	return joinLines(lines)
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		if l == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += l
	}
	return out
}

func averageRGB(img image.Image) (uint32, uint32, uint32) {
	bounds := img.Bounds()
	var rSum, gSum, bSum, count uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += uint64(r >> 8)
			gSum += uint64(g >> 8)
			bSum += uint64(b >> 8)
			count++
		}
	}
	if count == 0 {
		return 0, 0, 0
	}
	return uint32(rSum / count), uint32(gSum / count), uint32(bSum / count)
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
