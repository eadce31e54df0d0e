package inbound

import (
	"hash/fnv"
	"image"
	"log/slog"
	"time"

	"clawgate/internal/ax"
	"clawgate/internal/line"
)

// Pixel scores.
const (
	scorePixelTextChanged = 62
	scorePixelOnly        = 35
)

// inputSeparatorRatio restricts the capture to the transcript above the
// input separator.
const inputSeparatorRatio = 0.82

var ocrRetryDelays = []time.Duration{0, 180 * time.Millisecond, 420 * time.Millisecond}

// pixelSignal hashes a downsampled capture of the chat-list rectangle
// and OCRs the crop when the hash moves.
type pixelSignal struct {
	capturer ax.ScreenCapturer
	ocr      ax.OCREngine
	logger   *slog.Logger
	sleep    func(time.Duration)

	baseline    uint64
	hasBaseline bool
	prevText    string
}

func newPixelSignal(capturer ax.ScreenCapturer, ocr ax.OCREngine, logger *slog.Logger) *pixelSignal {
	return &pixelSignal{capturer: capturer, ocr: ocr, logger: logger, sleep: time.Sleep}
}

func (s *pixelSignal) reset() {
	s.hasBaseline = false
	s.baseline = 0
	s.prevText = ""
}

// collect captures, hashes, and on change OCRs up to three times (the
// app may still be animating), keeping the longest result. The first
// tick only stores the baseline.
func (s *pixelSignal) collect(window *ax.Node, conversation string) *Signal {
	list := line.FindChatList(window, 8, 500)
	if list == nil {
		return nil
	}
	crop := list.Frame
	crop.H = crop.H * inputSeparatorRatio

	img, err := s.capturer.Capture(crop)
	if err != nil || img == nil {
		return nil
	}
	hash := pixelHash(img)

	if !s.hasBaseline {
		s.baseline = hash
		s.hasBaseline = true
		return nil
	}
	if hash == s.baseline {
		return nil
	}
	s.baseline = hash

	text := s.ocrLongest(crop)
	delta := NewLines(s.prevText, text)
	s.prevText = text

	if delta != "" {
		return &Signal{Name: SignalPixel, Score: scorePixelTextChanged, Text: delta, Conversation: conversation}
	}
	return &Signal{Name: SignalPixel, Score: scorePixelOnly, Text: "", Conversation: conversation}
}

func (s *pixelSignal) ocrLongest(rect ax.Rect) string {
	best := ""
	for _, delay := range ocrRetryDelays {
		if delay > 0 {
			s.sleep(delay)
		}
		img, err := s.capturer.Capture(rect)
		if err != nil || img == nil {
			continue
		}
		lines, err := s.ocr.RecognizeLines(img)
		if err != nil {
			s.logger.Debug("pixel ocr failed", "err", err)
			continue
		}
		if text := joinLines(lines); len(text) > len(best) {
			best = text
		}
	}
	return best
}

// pixelHash downsamples to 32×32 and FNV-1a hashes the RGB bytes.
func pixelHash(img image.Image) uint64 {
	const side = 32
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	hasher := fnv.New64a()
	buf := make([]byte, 0, side*side*3)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			sx := bounds.Min.X + x*w/side
			sy := bounds.Min.Y + y*h/side
			r, g, b, _ := img.At(sx, sy).RGBA()
			buf = append(buf, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}
	_, _ = hasher.Write(buf)
	return hasher.Sum64()
}
