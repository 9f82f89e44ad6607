// Package strategy holds the live signal detectors.
//
// Each detector inspects an indicator.Snapshot together with the positions
// its own tag currently holds on the instrument, and returns a single
// Decision. Detectors are pure: sizing, the risk gate and every broker call
// belong to the coordinator.
package strategy

import (
	"fmt"

	"fxtrader/internal/model"
)

// Kind is the action a detector asks the coordinator to take.
type Kind int

const (
	NoAction Kind = iota
	OpenLong
	OpenShort
	CloseAll
	UpdateStopLoss
)

func (k Kind) String() string {
	switch k {
	case OpenLong:
		return "open_long"
	case OpenShort:
		return "open_short"
	case CloseAll:
		return "close_all"
	case UpdateStopLoss:
		return "update_stop_loss"
	default:
		return "no_action"
	}
}

// Decision is the output of one detector for one cycle.
type Decision struct {
	Kind     Kind            `json:"kind"`
	Tag      model.SignalTag `json:"tag"`
	Units    float64         `json:"units,omitempty"`     // filled in by the coordinator
	StopLoss float64         `json:"stop_loss,omitempty"` // open: initial stop, update: new stop
	Price    float64         `json:"price,omitempty"`     // close of the evaluated bar
	Reason   string          `json:"reason"`
}

// Side returns the order side for an open decision.
func (d Decision) Side() model.Side {
	if d.Kind == OpenShort {
		return model.Sell
	}
	return model.Buy
}

// IsOpen reports whether the decision opens a new position.
func (d Decision) IsOpen() bool {
	return d.Kind == OpenLong || d.Kind == OpenShort
}

func (d Decision) String() string {
	if d.StopLoss > 0 {
		return fmt.Sprintf("%s %s stop=%g (%s)", d.Tag, d.Kind, d.StopLoss, d.Reason)
	}
	return fmt.Sprintf("%s %s (%s)", d.Tag, d.Kind, d.Reason)
}

func none(tag model.SignalTag, reason string) Decision {
	return Decision{Kind: NoAction, Tag: tag, Reason: reason}
}
