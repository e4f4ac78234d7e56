// Package sdk helps writing vigil extensions that run as plugin binaries.
//
//	func main() {
//		sdk.Serve(&sdk.Extension{
//			ExtName: "grafana",
//			Classify: func(ctx context.Context, rec shared.ProbeRecord) (*shared.Classification, error) {
//				...
//			},
//		})
//	}
package sdk

import (
	"context"

	"github.com/hashicorp/go-plugin"
	"github.com/vigil/shared"
)

type SubdomainHandler func(ctx context.Context, host shared.DiscoveredHost) error
type ProbeHandler func(ctx context.Context, rec shared.ProbeRecord) error
type ClassifyHandler func(ctx context.Context, rec shared.ProbeRecord) (*shared.Classification, error)
type CompleteHandler func(ctx context.Context, records []shared.ClassifiedRecord) error

// An extension built from handlers. Missing handlers do nothing.
type Extension struct {
	ExtName string

	Subdomain SubdomainHandler
	Probe     ProbeHandler
	Classify  ClassifyHandler
	Complete  CompleteHandler
}

func (e *Extension) Name() string {
	return e.ExtName
}

func (e *Extension) OnSubdomainFound(ctx context.Context, host shared.DiscoveredHost) error {
	if e.Subdomain == nil {
		return nil
	}
	return e.Subdomain(ctx, host)
}

func (e *Extension) OnProbeResult(ctx context.Context, rec shared.ProbeRecord) error {
	if e.Probe == nil {
		return nil
	}
	return e.Probe(ctx, rec)
}

func (e *Extension) OnClassify(ctx context.Context, rec shared.ProbeRecord) (*shared.Classification, error) {
	if e.Classify == nil {
		return nil, nil
	}
	return e.Classify(ctx, rec)
}

func (e *Extension) OnComplete(ctx context.Context, records []shared.ClassifiedRecord) error {
	if e.Complete == nil {
		return nil
	}
	return e.Complete(ctx, records)
}

// Helper to build a classification
func Classify(score int, notes string, categories ...string) *shared.Classification {
	return &shared.Classification{Categories: categories, RiskScore: score, Notes: notes}
}

func pluginSet(ext shared.Extension) plugin.PluginSet {
	return plugin.PluginSet{
		shared.PLUGIN_NAME: &shared.ExtensionPlugin{Impl: ext},
	}
}

// Serve blocks, serving the extension to the vigil process that
// launched this binary.
func Serve(ext shared.Extension) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.HandshakeConfig,
		Plugins:         pluginSet(ext),
	})
}
