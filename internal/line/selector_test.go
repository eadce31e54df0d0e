package line

import (
	"testing"

	"clawgate/internal/ax"
)

func window(children ...*ax.Node) *ax.Node {
	return &ax.Node{
		Role:     RoleWindow,
		Frame:    ax.Rect{X: 0, Y: 0, W: 1000, H: 800},
		Children: children,
	}
}

func TestResolve_HardConstraintsFilter(t *testing.T) {
	field := &ax.Node{Role: RoleTextField, Settable: []string{AttrValue}, Frame: ax.Rect{X: 10, Y: 10, W: 200, H: 30}}
	readOnly := &ax.Node{Role: RoleTextField, Frame: ax.Rect{X: 10, Y: 60, W: 200, H: 30}}
	w := window(field, readOnly)

	got := Selector{Role: RoleTextField, MustBeSettable: []string{AttrValue}}.Resolve(w, 8, 500)
	if got != field {
		t.Fatalf("expected the settable field, got %+v", got)
	}
}

func TestResolve_TextHintsRaiseScore(t *testing.T) {
	plain := &ax.Node{Role: RoleButton, Actions: []string{ActionPress}, Frame: ax.Rect{X: 0, Y: 0, W: 50, H: 20}}
	send := &ax.Node{Role: RoleButton, Title: "Send", Actions: []string{ActionPress}, Frame: ax.Rect{X: 100, Y: 0, W: 50, H: 20}}
	w := window(plain, send)

	got := Selector{Role: RoleButton, TextHints: []string{"send"}, RequiredActions: []string{ActionPress}}.Resolve(w, 8, 500)
	if got != send {
		t.Fatalf("expected the labelled button, got %+v", got)
	}
}

func TestResolve_TieBreaksByRegionCenterThenArea(t *testing.T) {
	near := &ax.Node{Role: RoleTextArea, Settable: []string{AttrValue}, Frame: ax.Rect{X: 400, Y: 640, W: 400, H: 60}}
	far := &ax.Node{Role: RoleTextArea, Settable: []string{AttrValue}, Frame: ax.Rect{X: 400, Y: 760, W: 400, H: 60}}
	w := window(far, near)

	sel := Selector{
		Role:           RoleTextArea,
		MustBeSettable: []string{AttrValue},
		Geometry:       &GeometryHint{XMin: 0.25, XMax: 1, YMin: 0.7, YMax: 0.95, MinWidth: 0.3},
	}
	got := sel.Resolve(w, 8, 500)
	if got != near {
		t.Fatalf("expected the node closest to region center, got frame %+v", got.Frame)
	}

	small := &ax.Node{Role: RoleTextArea, Settable: []string{AttrValue}, Frame: ax.Rect{X: 450, Y: 650, W: 300, H: 40}}
	big := &ax.Node{Role: RoleTextArea, Settable: []string{AttrValue}, Frame: ax.Rect{X: 450, Y: 650, W: 300, H: 120}}
	// Identical centers: prefer the smaller area.
	small.Frame.X = big.Frame.X
	small.Frame.Y = big.Frame.CenterY() - small.Frame.H/2
	w2 := window(big, small)
	if got := sel.Resolve(w2, 8, 500); got != small {
		t.Fatalf("expected the smaller node on a center tie, got frame %+v", got.Frame)
	}
}

func TestResolve_NodeCapBoundsScan(t *testing.T) {
	children := make([]*ax.Node, 0, 20)
	for i := 0; i < 20; i++ {
		children = append(children, &ax.Node{Role: RoleStaticText})
	}
	target := &ax.Node{Role: RoleButton, Actions: []string{ActionPress}}
	children = append(children, target)
	w := window(children...)

	if got := (Selector{Role: RoleButton, RequiredActions: []string{ActionPress}}).Resolve(w, 8, 10); got != nil {
		t.Fatal("expected the capped scan to stop before the target")
	}
}

func TestClassifyRowByGeometry(t *testing.T) {
	list := ax.Rect{X: 0, Y: 0, W: 600, H: 800}
	left := ax.Rect{X: 10, Y: 0, W: 200, H: 40}
	right := ax.Rect{X: 390, Y: 0, W: 200, H: 40}
	middle := ax.Rect{X: 190, Y: 0, W: 200, H: 40}

	if got := ClassifyRowByGeometry(left, list); got != RowInbound {
		t.Fatalf("left row should be inbound, got %s", got)
	}
	if got := ClassifyRowByGeometry(right, list); got != RowOutbound {
		t.Fatalf("right row should be outbound, got %s", got)
	}
	if got := ClassifyRowByGeometry(middle, list); got != RowUnknown {
		t.Fatalf("band row should be unknown, got %s", got)
	}
}

func TestClassifyRowByText_ReadMarker(t *testing.T) {
	row := &ax.Node{Role: RoleRow, Children: []*ax.Node{
		{Role: RoleStaticText, Title: "Read 14:05"},
	}}
	if got := ClassifyRowByText(row); got != RowOutbound {
		t.Fatalf("read marker should classify outbound, got %s", got)
	}
	if got := ClassifyRowByText(&ax.Node{Role: RoleRow}); got != RowUnknown {
		t.Fatalf("bare row should stay unknown, got %s", got)
	}
}

func TestFindChatList_PicksListWithMostRows(t *testing.T) {
	sidebar := &ax.Node{Role: RoleList, Children: []*ax.Node{{Role: RoleRow}}}
	transcript := &ax.Node{Role: RoleList, Children: []*ax.Node{{Role: RoleRow}, {Role: RoleRow}, {Role: RoleRow}}}
	w := window(sidebar, transcript)

	if got := FindChatList(w, 8, 500); got != transcript {
		t.Fatal("expected the row-heavy list")
	}
}
