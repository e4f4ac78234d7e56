package vigil

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"github.com/vigil/shared"
)

type recordingExtension struct {
	name       string
	subdomains []string
	probes     []string
	completed  int
	fail       bool
	panic      bool
}

func (r *recordingExtension) Name() string { return r.name }

func (r *recordingExtension) outcome() error {
	if r.panic {
		panic("extension exploded")
	}
	if r.fail {
		return errors.New("extension failed")
	}
	return nil
}

func (r *recordingExtension) OnSubdomainFound(_ context.Context, host shared.DiscoveredHost) error {
	r.subdomains = append(r.subdomains, host.Hostname)
	return r.outcome()
}

func (r *recordingExtension) OnProbeResult(_ context.Context, rec shared.ProbeRecord) error {
	r.probes = append(r.probes, rec.Scheme+"://"+rec.Hostname)
	return r.outcome()
}

func (r *recordingExtension) OnComplete(_ context.Context, records []shared.ClassifiedRecord) error {
	r.completed += len(records)
	return r.outcome()
}

// Implements a single hook
type subdomainOnly struct {
	seen int
}

func (s *subdomainOnly) Name() string { return "subdomain-only" }

func (s *subdomainOnly) OnSubdomainFound(context.Context, shared.DiscoveredHost) error {
	s.seen++
	return nil
}

func TestEmitterSubscribe(t *testing.T) {
	m := NewEmitter(zerolog.Nop())
	m.Subscribe(&recordingExtension{name: "all"}, &subdomainOnly{})

	expected := map[EventType]int{SUBDOMAIN_EVENT: 2, PROBE_EVENT: 1, COMPLETE_EVENT: 1}
	for ev, n := range expected {
		if got := m.Subscribers(ev); got != n {
			t.Errorf("expected %d subscribers to %s, got %d", n, ev, got)
		}
	}
}

func TestEmitterIsolatesHooks(t *testing.T) {
	panicking := &recordingExtension{name: "panicking", panic: true}
	failing := &recordingExtension{name: "failing", fail: true}
	healthy := &recordingExtension{name: "healthy"}
	single := &subdomainOnly{}

	m := NewEmitter(zerolog.Nop())
	m.Subscribe(panicking, failing, healthy, single)

	ctx := context.Background()
	m.SubdomainFound(ctx, shared.DiscoveredHost{Hostname: "a.example.com"})
	m.SubdomainFound(ctx, shared.DiscoveredHost{Hostname: "b.example.com"})
	m.ProbeResult(ctx, shared.ProbeRecord{Hostname: "a.example.com", Scheme: "https"})
	m.Complete(ctx, make([]shared.ClassifiedRecord, 3))

	for _, ext := range []*recordingExtension{panicking, failing, healthy} {
		if !reflect.DeepEqual(ext.subdomains, []string{"a.example.com", "b.example.com"}) {
			t.Errorf("[%s] unexpected subdomains %v", ext.name, ext.subdomains)
		}
		if !reflect.DeepEqual(ext.probes, []string{"https://a.example.com"}) {
			t.Errorf("[%s] unexpected probes %v", ext.name, ext.probes)
		}
		if ext.completed != 3 {
			t.Errorf("[%s] expected 3 completed records, got %d", ext.name, ext.completed)
		}
	}
	if single.seen != 2 {
		t.Errorf("expected 2 subdomains, got %d", single.seen)
	}
}
