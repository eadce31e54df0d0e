// Package line is the chat-surface adapter. The chat app exposes no
// deterministic accessibility identifiers, so every interaction is a
// resolve → act → re-resolve loop over a capability/geometry matcher.
package line

import (
	"math"
	"strings"

	"clawgate/internal/ax"
)

// Accessibility roles and actions used by the selectors.
const (
	RoleWindow     = "AXWindow"
	RoleList       = "AXList"
	RoleRow        = "AXRow"
	RoleTextField  = "AXTextField"
	RoleTextArea   = "AXTextArea"
	RoleButton     = "AXButton"
	RoleStaticText = "AXStaticText"

	ActionPress = "AXPress"
	AttrValue   = "AXValue"
)

// GeometryHint constrains a candidate to a fractional window region.
type GeometryHint struct {
	XMin, XMax float64
	YMin, YMax float64
	// MinWidth is the minimum node width as a fraction of window width.
	MinWidth float64
}

// Selector is a capability/geometry node matcher. Candidates are scored
// by satisfied constraints; the best score wins, ties broken by distance
// to the region center and then by smallest area.
type Selector struct {
	Role            string
	Subrole         string
	TextHints       []string
	MustBeSettable  []string
	RequiredActions []string
	Geometry        *GeometryHint
}

type scoredNode struct {
	node     *ax.Node
	score    int
	distance float64
	area     float64
}

// Resolve scans up to maxDepth/maxNodes of window and returns the best
// match for sel, or nil when no candidate satisfies the hard
// constraints (role, settable attributes, required actions).
func (sel Selector) Resolve(window *ax.Node, maxDepth, maxNodes int) *ax.Node {
	if window == nil {
		return nil
	}
	frame := window.Frame
	var best *scoredNode
	window.Walk(maxDepth, maxNodes, func(node *ax.Node) {
		cand, ok := sel.score(node, frame)
		if !ok {
			return
		}
		if best == nil || betterCandidate(cand, *best) {
			c := cand
			best = &c
		}
	})
	if best == nil {
		return nil
	}
	return best.node
}

func betterCandidate(a, b scoredNode) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	return a.area < b.area
}

// score evaluates one node. Role, settable and action requirements are
// hard; text hints and geometry contribute to the score when satisfied.
func (sel Selector) score(node *ax.Node, window ax.Rect) (scoredNode, bool) {
	out := scoredNode{node: node, area: node.Frame.Area()}

	if sel.Role != "" {
		if node.Role != sel.Role {
			return out, false
		}
		out.score++
	}
	if sel.Subrole != "" {
		if node.Subrole != sel.Subrole {
			return out, false
		}
		out.score++
	}
	for _, attr := range sel.MustBeSettable {
		if !node.HasSettable(attr) {
			return out, false
		}
		out.score++
	}
	for _, action := range sel.RequiredActions {
		if !node.HasAction(action) {
			return out, false
		}
		out.score++
	}

	if len(sel.TextHints) > 0 {
		text := strings.ToLower(node.Title + " " + node.Value)
		for _, hint := range sel.TextHints {
			if strings.Contains(text, strings.ToLower(hint)) {
				out.score++
			}
		}
	}

	if g := sel.Geometry; g != nil && window.W > 0 && window.H > 0 {
		fx := (node.Frame.CenterX() - window.X) / window.W
		fy := (node.Frame.CenterY() - window.Y) / window.H
		inRegion := fx >= g.XMin && fx <= g.XMax && fy >= g.YMin && fy <= g.YMax
		wideEnough := g.MinWidth <= 0 || node.Frame.W/window.W >= g.MinWidth
		if inRegion && wideEnough {
			out.score++
		}
		cx := (g.XMin + g.XMax) / 2
		cy := (g.YMin + g.YMax) / 2
		out.distance = math.Hypot(fx-cx, fy-cy)
	}
	return out, true
}

// Default selectors for the chat app surface.
var (
	searchFieldSelector = Selector{
		Role:           RoleTextField,
		TextHints:      []string{"search"},
		MustBeSettable: []string{AttrValue},
		Geometry:       &GeometryHint{XMin: 0, XMax: 0.45, YMin: 0, YMax: 0.25},
	}
	messageInputSelector = Selector{
		Role:           RoleTextArea,
		MustBeSettable: []string{AttrValue},
		Geometry:       &GeometryHint{XMin: 0.25, XMax: 1, YMin: 0.7, YMax: 1, MinWidth: 0.3},
	}
	sendButtonSelector = Selector{
		Role:            RoleButton,
		TextHints:       []string{"send"},
		RequiredActions: []string{ActionPress},
		Geometry:        &GeometryHint{XMin: 0.7, XMax: 1, YMin: 0.7, YMax: 1},
	}
)
