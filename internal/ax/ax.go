// Package ax fixes the interfaces of the platform collaborators: the
// accessibility layer, screen capture, the OCR engine, and the OS
// notification host. Real bindings are platform-specific and live
// outside the core; every consumer in this repo works against these
// interfaces and is tested with fakes.
package ax

import (
	"context"
	"image"
)

// KeyReturn is the Enter key code posted to the chat process.
const KeyReturn = 36

// Rect is a window-relative or screen rectangle in points.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CenterX returns the horizontal midpoint.
func (r Rect) CenterX() float64 { return r.X + r.W/2 }

// CenterY returns the vertical midpoint.
func (r Rect) CenterY() float64 { return r.Y + r.H/2 }

// Area returns the rectangle area.
func (r Rect) Area() float64 { return r.W * r.H }

// Node is one accessibility-tree element, materialized to the depth the
// gateway was asked for.
type Node struct {
	Role     string   `json:"role"`
	Subrole  string   `json:"subrole,omitempty"`
	Title    string   `json:"title,omitempty"`
	Value    string   `json:"value,omitempty"`
	Frame    Rect     `json:"frame"`
	Settable []string `json:"settable,omitempty"`
	Actions  []string `json:"actions,omitempty"`
	Children []*Node  `json:"children,omitempty"`
}

// HasSettable reports whether attr can be written on this node.
func (n *Node) HasSettable(attr string) bool {
	for _, a := range n.Settable {
		if a == attr {
			return true
		}
	}
	return false
}

// HasAction reports whether the node supports the named action.
func (n *Node) HasAction(action string) bool {
	for _, a := range n.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Walk visits the subtree depth-first up to maxDepth levels and maxNodes
// visits, whichever stops first.
func (n *Node) Walk(maxDepth, maxNodes int, visit func(*Node)) {
	count := 0
	var rec func(node *Node, depth int)
	rec = func(node *Node, depth int) {
		if node == nil || depth > maxDepth || count >= maxNodes {
			return
		}
		count++
		visit(node)
		for _, child := range node.Children {
			if count >= maxNodes {
				return
			}
			rec(child, depth+1)
		}
	}
	rec(n, 0)
}

// Gateway is the accessibility layer. All calls block and must only run
// on the serial blocking worker.
type Gateway interface {
	// Trusted reports whether accessibility permission is granted.
	Trusted() bool
	// AppPID resolves a running app by bundle identifier.
	AppPID(bundleID string) (pid int, running bool)
	// Launch starts the app with the given bundle identifier.
	Launch(bundleID string) error
	// Activate brings the process frontmost.
	Activate(pid int) error
	// FocusedWindow returns the focused window tree of pid, materialized
	// to maxDepth levels and at most maxNodes nodes. Falls back to the
	// first window when none is focused; nil when the process has no
	// windows.
	FocusedWindow(pid, maxDepth, maxNodes int) (*Node, error)
	// SetValue writes a node's value attribute.
	SetValue(node *Node, value string) error
	// PerformAction invokes a node action (e.g. "AXPress").
	PerformAction(node *Node, action string) error
	// PostKey posts a keyboard event to the process identity. Global
	// synthetic keys are ignored by the chat toolkit; this must target
	// the pid.
	PostKey(pid int, keyCode int) error
	// FrontmostPID returns the pid of the foreground application.
	FrontmostPID() int
}

// ScreenCapturer captures a screen rectangle.
type ScreenCapturer interface {
	Capture(rect Rect) (image.Image, error)
}

// OCREngine recognizes text lines in an image, top to bottom.
type OCREngine interface {
	RecognizeLines(img image.Image) ([]string, error)
}

// Banner is one OS notification banner, decomposed into the app label
// and its texts.
type Banner struct {
	App     string
	Sender  string
	Message string
}

// NotificationObserver watches the OS notification host for banner
// windows. Banners() yields until ctx passed to Start is done.
type NotificationObserver interface {
	Start(ctx context.Context) error
	Banners() <-chan Banner
}
