package shared

import (
	"context"

	"github.com/hashicorp/go-plugin"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "VIGIL_PLUGIN",
	MagicCookieValue: "vigil",
}

// Name under which plugin binaries expose their extension
const PLUGIN_NAME = "extension"

var PluginMap = map[string]plugin.Plugin{
	PLUGIN_NAME: &ExtensionPlugin{},
}

// Extensions are registered explicitly at startup. Each extension
// implements any subset of the hooks below; the pipeline only calls
// the ones it implements. Hook failures are logged and never propagated.
type Extension interface {
	Name() string
}

// Called once for every unique hostname found by discovery
type SubdomainHook interface {
	Extension
	OnSubdomainFound(ctx context.Context, host DiscoveredHost) error
}

// Called for every probe record produced
type ProbeHook interface {
	Extension
	OnProbeResult(ctx context.Context, rec ProbeRecord) error
}

// Called by the classifier after the built-in rules. A nil
// classification means the hook has nothing to add.
type ClassifyHook interface {
	Extension
	OnClassify(ctx context.Context, rec ProbeRecord) (*Classification, error)
}

// Called once with the full result set
type CompleteHook interface {
	Extension
	OnComplete(ctx context.Context, records []ClassifiedRecord) error
}
