package line

import (
	"sort"
	"strings"

	"clawgate/internal/ax"
)

// NeutralBandPx is the horizontal band around the chat-list center in
// which geometry alone cannot classify a row.
const NeutralBandPx = 28

// RowDirection classifies one chat row.
type RowDirection string

const (
	RowInbound  RowDirection = "inbound"
	RowOutbound RowDirection = "outbound"
	RowUnknown  RowDirection = "unknown"
)

// readMarkerSubstring marks messages the peer has read; it only ever
// appears on our own bubbles.
const readMarkerSubstring = "Read"

// FindChatList returns the AXList with the most row children, which in
// the chat app is reliably the message transcript.
func FindChatList(window *ax.Node, maxDepth, maxNodes int) *ax.Node {
	var best *ax.Node
	bestRows := -1
	window.Walk(maxDepth, maxNodes, func(node *ax.Node) {
		if node.Role != RoleList {
			return
		}
		rows := 0
		for _, child := range node.Children {
			if child.Role == RoleRow {
				rows++
			}
		}
		if rows > bestRows {
			best = node
			bestRows = rows
		}
	})
	return best
}

// Rows returns the list's row children sorted by Y ascending.
func Rows(list *ax.Node) []*ax.Node {
	if list == nil {
		return nil
	}
	rows := make([]*ax.Node, 0, len(list.Children))
	for _, child := range list.Children {
		if child.Role == RoleRow {
			rows = append(rows, child)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Frame.Y < rows[j].Frame.Y
	})
	return rows
}

// ClassifyRowByGeometry places a row left (inbound) or right (outbound)
// of the chat-list center. Rows inside the neutral band are unknown and
// need the color or text fallback.
func ClassifyRowByGeometry(row, list ax.Rect) RowDirection {
	delta := row.CenterX() - list.CenterX()
	if delta < -NeutralBandPx {
		return RowInbound
	}
	if delta > NeutralBandPx {
		return RowOutbound
	}
	return RowUnknown
}

// ClassifyRowByText is the geometry fallback of last resort: the read
// marker only decorates our own sends.
func ClassifyRowByText(row *ax.Node) RowDirection {
	if strings.Contains(RowText(row), readMarkerSubstring) {
		return RowOutbound
	}
	return RowUnknown
}

// RowText joins the static texts and values of a row's subtree.
func RowText(row *ax.Node) string {
	if row == nil {
		return ""
	}
	var parts []string
	row.Walk(4, 64, func(node *ax.Node) {
		if v := strings.TrimSpace(node.Value); v != "" {
			parts = append(parts, v)
		} else if t := strings.TrimSpace(node.Title); t != "" && node.Role == RoleStaticText {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}
