package vigil

import (
	"os/exec"

	"github.com/hashicorp/go-plugin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vigil/shared"
)

type vigilPlugin struct {
	path   string
	client *plugin.Client
	ext    shared.Extension
}

// Makes a new client for the plugin binary and dispenses its extension
func loadPlugin(fpath string) (*vigilPlugin, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.HandshakeConfig,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(fpath),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errors.Wrapf(err, "failed to start plugin %s", fpath)
	}

	raw, err := rpcClient.Dispense(shared.PLUGIN_NAME)
	if err != nil {
		client.Kill()
		return nil, errors.Wrapf(err, "failed to dispense plugin %s", fpath)
	}

	ext, ok := raw.(shared.Extension)
	if !ok {
		client.Kill()
		return nil, errors.Errorf("plugin %s does not serve an extension", fpath)
	}
	return &vigilPlugin{path: fpath, client: client, ext: ext}, nil
}

// Starts every plugin binary. The returned function stops them all and
// must be called once the extensions are no longer used.
func LoadPlugins(paths []string, logger zerolog.Logger) ([]shared.Extension, func(), error) {
	var loaded []*vigilPlugin
	kill := func() {
		for _, p := range loaded {
			p.client.Kill()
		}
	}

	var exts []shared.Extension
	for _, fpath := range paths {
		p, err := loadPlugin(fpath)
		if err != nil {
			kill()
			return nil, func() {}, err
		}
		logger.Debug().Str("path", fpath).Str("extension", p.ext.Name()).Msg("plugin loaded")
		loaded = append(loaded, p)
		exts = append(exts, p.ext)
	}
	return exts, kill, nil
}
