package submission

import (
	"fmt"
	"time"
)

// SignalKind identifies a connectivity event.
type SignalKind int

const (
	// SignalOnline reports that connectivity was restored.
	SignalOnline SignalKind = iota + 1
	// SignalOffline reports that connectivity was lost.
	SignalOffline
	// SignalQualityChanged updates connection metadata without changing
	// the online state.
	SignalQualityChanged
)

func (k SignalKind) String() string {
	switch k {
	case SignalOnline:
		return "online"
	case SignalOffline:
		return "offline"
	case SignalQualityChanged:
		return "quality_changed"
	default:
		return fmt.Sprintf("SignalKind(%d)", int(k))
	}
}

// ParseSignalKind accepts the names produced by SignalKind.String.
func ParseSignalKind(s string) (SignalKind, error) {
	switch s {
	case "online":
		return SignalOnline, nil
	case "offline":
		return SignalOffline, nil
	case "quality_changed":
		return SignalQualityChanged, nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}

// Signal is one connectivity event. The quality hints are optional and
// diagnostic only.
type Signal struct {
	Kind          SignalKind
	EffectiveType string
	Downlink      float64
	RTT           time.Duration
}

// Online returns a plain connectivity-restored signal.
func Online() Signal { return Signal{Kind: SignalOnline} }

// Offline returns a connectivity-lost signal.
func Offline() Signal { return Signal{Kind: SignalOffline} }
