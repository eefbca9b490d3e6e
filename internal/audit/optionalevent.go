package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// OptionalEvent builds a nested dictionary that is only attached to its parent
// when at least one field was written. Zero values are skipped.
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func NewOptionalEvent(e *zerolog.Event) *OptionalEvent {
	return &OptionalEvent{ev: e}
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
		oe.modified = false
	}
	return oe.ev

}

func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.event())
		return true
	}
	return false
}

func (oe *OptionalEvent) Event() *zerolog.Event {
	e := oe.event()
	oe.modified = true
	return e
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Bool(key string, val bool) *OptionalEvent {
	oe.event().Bool(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val == 0 {
		return oe
	}
	oe.event().Int(key, val)
	oe.modified = true
	return oe
}

// Expiry writes the expiry instant and the time remaining until it.
func (oe *OptionalEvent) Expiry(key string, expiry time.Time) *OptionalEvent {
	if expiry.IsZero() {
		return oe
	}
	oe.event().
		Time(key, expiry).
		Dur(key+"Remaining", time.Until(expiry).Round(time.Second))
	oe.modified = true
	return oe
}
