package domain

import (
	"errors"
	"time"
)

// ErrInvalidWindow is returned when a window has end before start or no token.
var ErrInvalidWindow = errors.New("invalid extraction window")

// ExtractionWindow bounds which activity a single extraction pass collects.
// The interval is closed: both Start and End are in-window.
type ExtractionWindow struct {
	Start        time.Time
	End          time.Time
	Chain        Chain
	TokenAddress string
}

// NewLookbackWindow returns the window [end-lookback, end].
func NewLookbackWindow(chain Chain, tokenAddress string, end time.Time, lookback time.Duration) ExtractionWindow {
	end = end.UTC().Truncate(time.Second)
	return ExtractionWindow{
		Start:        end.Add(-lookback),
		End:          end,
		Chain:        chain,
		TokenAddress: tokenAddress,
	}
}

// Contains reports whether t lies in [Start, End].
func (w ExtractionWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ContainsUnix reports whether the unix timestamp (seconds) lies in the window.
func (w ExtractionWindow) ContainsUnix(sec int64) bool {
	return sec >= w.Start.Unix() && sec <= w.End.Unix()
}

// Key identifies windows sharing the same time bounds regardless of token.
func (w ExtractionWindow) Key() WindowKey {
	return WindowKey{Start: w.Start.Unix(), End: w.End.Unix()}
}

// Validate checks the window invariants.
func (w ExtractionWindow) Validate() error {
	if w.TokenAddress == "" || !w.Chain.IsValid() || w.End.Before(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// WindowKey is the comparable (start, end) pair in unix seconds.
type WindowKey struct {
	Start int64
	End   int64
}
