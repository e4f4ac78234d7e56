package vigil

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vigil/shared"
)

type EventType uint8

const (
	SUBDOMAIN_EVENT EventType = iota
	PROBE_EVENT
	COMPLETE_EVENT
)

func (e EventType) String() string {
	switch e {
	case SUBDOMAIN_EVENT:
		return "subdomain"
	case PROBE_EVENT:
		return "probe"
	case COMPLETE_EVENT:
		return "complete"
	}
	return "unknown"
}

// Dispatches pipeline events to the extensions subscribed to them.
// Classification hooks are handed to the classifier instead.
type Emitter struct {
	// Map of event types and its subscribers
	subs   map[EventType][]shared.Extension
	logger zerolog.Logger
}

func NewEmitter(logger zerolog.Logger) *Emitter {
	return &Emitter{subs: make(map[EventType][]shared.Extension), logger: logger}
}

// Subscribes the extension to every event it has a hook for
func (m *Emitter) Subscribe(exts ...shared.Extension) {
	for _, ext := range exts {
		if _, ok := ext.(shared.SubdomainHook); ok {
			m.subs[SUBDOMAIN_EVENT] = append(m.subs[SUBDOMAIN_EVENT], ext)
		}
		if _, ok := ext.(shared.ProbeHook); ok {
			m.subs[PROBE_EVENT] = append(m.subs[PROBE_EVENT], ext)
		}
		if _, ok := ext.(shared.CompleteHook); ok {
			m.subs[COMPLETE_EVENT] = append(m.subs[COMPLETE_EVENT], ext)
		}
	}
}

func (m *Emitter) Subscribers(t EventType) int {
	return len(m.subs[t])
}

func (m *Emitter) SubdomainFound(ctx context.Context, host shared.DiscoveredHost) {
	for _, ext := range m.subs[SUBDOMAIN_EVENT] {
		m.dispatch(SUBDOMAIN_EVENT, ext, func() error {
			return ext.(shared.SubdomainHook).OnSubdomainFound(ctx, host)
		})
	}
}

func (m *Emitter) ProbeResult(ctx context.Context, rec shared.ProbeRecord) {
	for _, ext := range m.subs[PROBE_EVENT] {
		m.dispatch(PROBE_EVENT, ext, func() error {
			return ext.(shared.ProbeHook).OnProbeResult(ctx, rec)
		})
	}
}

func (m *Emitter) Complete(ctx context.Context, records []shared.ClassifiedRecord) {
	for _, ext := range m.subs[COMPLETE_EVENT] {
		m.dispatch(COMPLETE_EVENT, ext, func() error {
			return ext.(shared.CompleteHook).OnComplete(ctx, records)
		})
	}
}

// A failing or panicking hook never stops the others
func (m *Emitter) dispatch(t EventType, ext shared.Extension, hook func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn().Str("extension", ext.Name()).Stringer("event", t).
				Str("panic", fmt.Sprint(r)).Msg("extension hook panicked")
		}
	}()

	if err := hook(); err != nil {
		m.logger.Warn().Err(err).Str("extension", ext.Name()).Stringer("event", t).
			Msg("extension hook failed")
	}
}
