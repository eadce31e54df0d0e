package runtime

import (
	"context"
	"errors"
	"image"

	"clawgate/internal/ax"
)

var errPlatformUnavailable = errors.New("platform binding unavailable")

func (p Platform) withDefaults() Platform {
	if p.Gateway == nil {
		p.Gateway = unavailableGateway{}
	}
	if p.Capturer == nil {
		p.Capturer = unavailableCapturer{}
	}
	if p.OCR == nil {
		p.OCR = unavailableOCR{}
	}
	if p.Observer == nil {
		p.Observer = unavailableObserver{}
	}
	return p
}

// unavailableGateway stands in when no accessibility binding was
// provided. The chat app reads as not running, so the detector and the
// send path degrade to their not-running errors instead of panicking.
type unavailableGateway struct{}

func (unavailableGateway) Trusted() bool                   { return false }
func (unavailableGateway) AppPID(string) (int, bool)       { return 0, false }
func (unavailableGateway) Launch(string) error             { return errPlatformUnavailable }
func (unavailableGateway) Activate(int) error              { return errPlatformUnavailable }
func (unavailableGateway) SetValue(*ax.Node, string) error { return errPlatformUnavailable }
func (unavailableGateway) PerformAction(*ax.Node, string) error {
	return errPlatformUnavailable
}
func (unavailableGateway) PostKey(int, int) error { return errPlatformUnavailable }
func (unavailableGateway) FrontmostPID() int      { return 0 }
func (unavailableGateway) FocusedWindow(int, int, int) (*ax.Node, error) {
	return nil, errPlatformUnavailable
}

type unavailableCapturer struct{}

func (unavailableCapturer) Capture(ax.Rect) (image.Image, error) {
	return nil, errPlatformUnavailable
}

type unavailableOCR struct{}

func (unavailableOCR) RecognizeLines(image.Image) ([]string, error) {
	return nil, errPlatformUnavailable
}

type unavailableObserver struct{}

func (unavailableObserver) Start(context.Context) error { return errPlatformUnavailable }
func (unavailableObserver) Banners() <-chan ax.Banner   { return nil }
