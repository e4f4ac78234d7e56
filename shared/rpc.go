package shared

import (
	"context"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// Client side of an extension running in a plugin process. It implements
// every hook; hooks the remote implementation lacks answer with nothing.
type ExtensionRPC struct {
	client *rpc.Client
}

func (g *ExtensionRPC) Name() string {
	var name string
	if err := g.client.Call("Plugin.Name", new(interface{}), &name); err != nil {
		return "unknown"
	}
	return name
}

func (g *ExtensionRPC) OnSubdomainFound(_ context.Context, host DiscoveredHost) error {
	return g.client.Call("Plugin.OnSubdomainFound", host, new(bool))
}

func (g *ExtensionRPC) OnProbeResult(_ context.Context, rec ProbeRecord) error {
	return g.client.Call("Plugin.OnProbeResult", rec, new(bool))
}

func (g *ExtensionRPC) OnClassify(_ context.Context, rec ProbeRecord) (*Classification, error) {
	var reply ClassifyReply
	if err := g.client.Call("Plugin.OnClassify", rec, &reply); err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}
	return &reply.Classification, nil
}

func (g *ExtensionRPC) OnComplete(_ context.Context, records []ClassifiedRecord) error {
	return g.client.Call("Plugin.OnComplete", records, new(bool))
}

// gob cannot carry a nil pointer as a reply
type ClassifyReply struct {
	Found          bool
	Classification Classification
}

type ExtensionRPCServer struct {
	Impl Extension
}

func (s *ExtensionRPCServer) Name(_ interface{}, name *string) error {
	*name = s.Impl.Name()
	return nil
}

func (s *ExtensionRPCServer) OnSubdomainFound(host DiscoveredHost, _ *bool) error {
	if h, ok := s.Impl.(SubdomainHook); ok {
		return h.OnSubdomainFound(context.Background(), host)
	}
	return nil
}

func (s *ExtensionRPCServer) OnProbeResult(rec ProbeRecord, _ *bool) error {
	if h, ok := s.Impl.(ProbeHook); ok {
		return h.OnProbeResult(context.Background(), rec)
	}
	return nil
}

func (s *ExtensionRPCServer) OnClassify(rec ProbeRecord, reply *ClassifyReply) error {
	h, ok := s.Impl.(ClassifyHook)
	if !ok {
		return nil
	}

	c, err := h.OnClassify(context.Background(), rec)
	if err != nil {
		return err
	}
	if c != nil {
		reply.Found = true
		reply.Classification = *c
	}
	return nil
}

func (s *ExtensionRPCServer) OnComplete(records []ClassifiedRecord, _ *bool) error {
	if h, ok := s.Impl.(CompleteHook); ok {
		return h.OnComplete(context.Background(), records)
	}
	return nil
}

type ExtensionPlugin struct {
	Impl Extension
}

func (p *ExtensionPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &ExtensionRPCServer{Impl: p.Impl}, nil
}

func (p *ExtensionPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ExtensionRPC{client: c}, nil
}
