package pane

import (
	"strings"

	"github.com/google/uuid"
)

// Question is an interactive selector prompt detected in pane output.
type Question struct {
	Text          string
	Options       []string
	SelectedIndex int
	ID            string
}

// Selector glyphs the agent CLIs render in front of menu options. The
// filled variants mark the currently highlighted option.
var (
	selectedGlyphs = []string{"●", "❯"}
	optionGlyphs   = []string{"●", "○", "❯", ">", "*"}
)

// DetectQuestion scans a pane capture bottom-up for a selector menu: at
// least two consecutive option lines preceded by a line ending in "?".
// Returns nil when no menu is visible.
func DetectQuestion(capture string) *Question {
	lines := strings.Split(strings.TrimRight(capture, "\n"), "\n")

	// Find the block of option lines closest to the bottom.
	end := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if optionGlyph(lines[i]) != "" {
			end = i
			break
		}
		if strings.TrimSpace(lines[i]) != "" {
			// Non-empty, non-option text below any menu means the menu
			// already scrolled away.
			break
		}
	}
	if end < 0 {
		return nil
	}
	start := end
	for start > 0 && optionGlyph(lines[start-1]) != "" {
		start--
	}
	if end-start+1 < 2 {
		return nil
	}

	// The question is the nearest non-blank line above, ending in "?".
	questionLine := ""
	for i := start - 1; i >= 0; i-- {
		text := strings.TrimSpace(lines[i])
		if text == "" {
			continue
		}
		questionLine = text
		break
	}
	if !strings.HasSuffix(questionLine, "?") {
		return nil
	}

	q := &Question{Text: questionLine, ID: uuid.NewString()}
	for i := start; i <= end; i++ {
		glyph := optionGlyph(lines[i])
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i]), glyph))
		if isSelectedGlyph(glyph) {
			q.SelectedIndex = len(q.Options)
		}
		q.Options = append(q.Options, text)
	}
	return q
}

func optionGlyph(line string) string {
	trimmed := strings.TrimSpace(line)
	for _, glyph := range optionGlyphs {
		if strings.HasPrefix(trimmed, glyph+" ") || trimmed == glyph {
			return glyph
		}
	}
	return ""
}

func isSelectedGlyph(glyph string) bool {
	for _, g := range selectedGlyphs {
		if glyph == g {
			return true
		}
	}
	return false
}

// Markers that make an option the safe automatic answer.
var autoAnswerMarkers = []string{
	"recommended", "don't ask", "always", "yes", "ok", "proceed", "approve",
}

// AutoAnswerMarkers returns the fixed marker list, for diagnostics.
func AutoAnswerMarkers() []string {
	out := make([]string, len(autoAnswerMarkers))
	copy(out, autoAnswerMarkers)
	return out
}

// ChooseOption picks the option to auto-answer with: the first option
// whose text carries a recommendation marker, else the first option.
func ChooseOption(options []string) int {
	for i, opt := range options {
		lower := strings.ToLower(opt)
		for _, marker := range autoAnswerMarkers {
			if strings.Contains(lower, marker) {
				return i
			}
		}
	}
	return 0
}
