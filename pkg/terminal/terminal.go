// Package terminal models optional point-of-sale hardware (card reader,
// receipt printer, confirmation feedback) as capability-queried interfaces so
// the order flow never branches on platform detection directly.
package terminal

import "context"

// CardTap is a contactless card read.
type CardTap struct {
	SerialNumber string
	Records      []string
}

// CardReader listens for card taps while an invoice is displayed. Start is
// opportunistic: failure to start must never abort checkout.
type CardReader interface {
	Available() bool
	Start(ctx context.Context, onTap func(CardTap)) error
	Stop()
}

// Receipt is the data handed to a Printer after a confirmed sale.
type Receipt struct {
	OrderID     string
	AmountSats  int64
	Destination string
	Timestamp   int64
}

type Printer interface {
	Available() bool
	Print(r Receipt) error
}

// Feedback fires a best-effort confirmation cue (haptic/audio on the device
// hosting the display). Implementations must not panic or block.
type Feedback interface {
	ConfirmCue()
}

// NoopReader is the unavailable card reader variant.
type NoopReader struct{}

func (NoopReader) Available() bool                                      { return false }
func (NoopReader) Start(ctx context.Context, onTap func(CardTap)) error { return nil }
func (NoopReader) Stop()                                                {}

// NoopPrinter is the unavailable printer variant.
type NoopPrinter struct{}

func (NoopPrinter) Available() bool       { return false }
func (NoopPrinter) Print(r Receipt) error { return nil }

// NoopFeedback swallows confirmation cues.
type NoopFeedback struct{}

func (NoopFeedback) ConfirmCue() {}
