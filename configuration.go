package vigil

import (
	"os"
	"path"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/vigil/pkg/database"
	"github.com/vigil/pkg/discovery"
	"github.com/vigil/pkg/probe"
	"github.com/vigil/pkg/resolver"
	"gopkg.in/yaml.v3"
)

const CONFIG_FILE = "config.yaml"

// Standard paths to use to store vigil related data
// https://specifications.freedesktop.org/basedir-spec/latest/
type StandardPaths struct {
	// Can be used to change the profile
	// Default: "vigil"
	VIGIL_APPNAME string
	// Path to configuration directory.
	// Default: "$XDG_CONFIG_HOME/$VIGIL_APPNAME" or "$HOME/.config/$VIGIL_APPNAME" if unset
	CONFIG_HOME string
	// Path to state directory
	// Default: "$XDG_STATE_HOME/$VIGIL_APPNAME" or "$HOME/.local/state/$VIGIL_APPNAME" if unset
	STATE_HOME string
	// Path to data directory, holds signatures and plugins
	// Default: "$XDG_DATA_HOME/$VIGIL_APPNAME" or "$HOME/.local/share/$VIGIL_APPNAME"
	DATA_HOME string
}

func (s StandardPaths) init(fs afero.Fs) error {
	for _, p := range []string{s.CONFIG_HOME, s.STATE_HOME, s.DATA_HOME} {
		if err := fs.MkdirAll(p, 0700); err != nil {
			return errors.Wrapf(err, "failed to create standard path: %s", p)
		}
	}
	return nil
}

type stdpathsBuilder struct {
	stdpaths *StandardPaths
	home     string

	app    string
	config string
	state  string
	data   string
}

func newStdpathsBuilder() *stdpathsBuilder {
	return &stdpathsBuilder{home: os.Getenv("HOME")}
}

func (b *stdpathsBuilder) withStdpaths(stdpaths *StandardPaths) *stdpathsBuilder {
	bcp := *b
	bcp.stdpaths = stdpaths
	return &bcp
}

func (b *stdpathsBuilder) isValid(val string) bool {
	return !slices.Contains([]string{"", "-"}, val)
}

func (b *stdpathsBuilder) bind(val, env, def string) string {
	if b.isValid(val) {
		return val
	}
	if v := os.Getenv(env); b.isValid(v) {
		return v
	}
	return def
}

// Explicit values are used as they are, others are joined with the app name
func (b *stdpathsBuilder) bindToApp(val, env, def string) string {
	v := b.bind(val, env, def)
	if v == val {
		return val
	}
	return path.Join(v, b.app)
}

func (b *stdpathsBuilder) setApp(val string) *stdpathsBuilder {
	b.app = b.bind(val, "VIGIL_APPNAME", "vigil")
	return b
}

func (b *stdpathsBuilder) setConfig(val string) *stdpathsBuilder {
	b.config = b.bindToApp(val, "XDG_CONFIG_HOME", path.Join(b.home, ".config"))
	return b
}

func (b *stdpathsBuilder) setState(val string) *stdpathsBuilder {
	b.state = b.bindToApp(val, "XDG_STATE_HOME", path.Join(b.home, ".local", "state"))
	return b
}

func (b *stdpathsBuilder) setData(val string) *stdpathsBuilder {
	b.data = b.bindToApp(val, "XDG_DATA_HOME", path.Join(b.home, ".local", "share"))
	return b
}

func (b *stdpathsBuilder) build() *StandardPaths {
	stdpaths := b.stdpaths
	stdpaths.VIGIL_APPNAME = b.app
	stdpaths.CONFIG_HOME = b.config
	stdpaths.STATE_HOME = b.state
	stdpaths.DATA_HOME = b.data
	return stdpaths
}

// Fills unset standard paths from the environment or the defaults
func BindStandardPaths(stdpaths *StandardPaths) *StandardPaths {
	b := newStdpathsBuilder().withStdpaths(stdpaths)
	return b.setApp(stdpaths.VIGIL_APPNAME).
		setConfig(stdpaths.CONFIG_HOME).
		setData(stdpaths.DATA_HOME).
		setState(stdpaths.STATE_HOME).
		build()
}

// Tunables of a scan, read from the configuration file
type Settings struct {
	// Hosts handled at once while resolving and probing
	Concurrency int `yaml:"concurrency"`
	// Endpoint checks in flight per probed host
	EndpointConcurrency int            `yaml:"endpoint_concurrency"`
	Timeout             time.Duration  `yaml:"timeout"`
	CTEndpoint          string         `yaml:"ct_endpoint"`
	CTTimeout           time.Duration  `yaml:"ct_timeout"`
	Resolvers           []string       `yaml:"resolvers"`
	Wordlist            string         `yaml:"wordlist"`
	Endpoints           []string       `yaml:"endpoints"`
	Ports               map[string]int `yaml:"ports"`
	CacheSize           int            `yaml:"cache_size"`
	// Plugin binaries to load as extensions
	Plugins []string `yaml:"plugins"`
	// Directories searched for signature files
	Signatures []string `yaml:"signatures"`
	// Path to the nuclei binary, empty disables vulnerability scans
	Nuclei   string `yaml:"nuclei"`
	Database string `yaml:"database"`
}

func DefaultSettings() Settings {
	return Settings{
		Concurrency:         20,
		EndpointConcurrency: 6,
		Timeout:             probe.DEFAULT_TIMEOUT,
		CTEndpoint:          discovery.DEFAULT_CT_ENDPOINT,
		CTTimeout:           discovery.DEFAULT_CT_TIMEOUT,
		Resolvers:           slices.Clone(resolver.DefaultServers),
		Endpoints:           slices.Clone(probe.DefaultPaths),
		Ports:               map[string]int{"https": 443, "http": 80},
		CacheSize:           4096,
		Database:            database.INMEMORY_DATABASE,
	}
}

func (s *Settings) Validate() error {
	switch {
	case s.Concurrency <= 0:
		return errors.Errorf("concurrency must be positive, got %d", s.Concurrency)
	case s.EndpointConcurrency <= 0:
		return errors.Errorf("endpoint concurrency must be positive, got %d", s.EndpointConcurrency)
	case s.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %s", s.Timeout)
	case s.CTTimeout <= 0:
		return errors.Errorf("ct timeout must be positive, got %s", s.CTTimeout)
	case s.CacheSize <= 0:
		return errors.Errorf("cache size must be positive, got %d", s.CacheSize)
	}
	for scheme, port := range s.Ports {
		if _, ok := probe.DefaultPorts[scheme]; !ok {
			return errors.Errorf("unsupported scheme %s", scheme)
		}
		if port <= 0 || port > 65535 {
			return errors.Errorf("invalid %s port %d", scheme, port)
		}
	}
	return nil
}

type Configuration struct {
	Paths    StandardPaths
	Settings Settings
	fs       afero.Fs
}

func NewConfiguration(paths StandardPaths, settings Settings) *Configuration {
	return &Configuration{Paths: paths, Settings: settings, fs: afero.NewOsFs()}
}

func (c *Configuration) Fs() afero.Fs {
	if c.fs == nil {
		return afero.NewOsFs()
	}
	return c.fs
}

// Directories searched for signatures, the data home first
func (c *Configuration) Signatures() []string {
	return append([]string{path.Join(c.Paths.DATA_HOME, "signatures")}, c.Settings.Signatures...)
}

// Loads the settings file, or $CONFIG_HOME/config.yaml when fpath is
// empty. Only an explicit file must exist.
func LoadSettings(fpath string, paths *StandardPaths) (*Configuration, error) {
	return loadSettings(afero.NewOsFs(), fpath, paths)
}

func loadSettings(fs afero.Fs, fpath string, paths *StandardPaths) (*Configuration, error) {
	if err := paths.init(fs); err != nil {
		return nil, errors.Wrap(err, "failed to initialize standard paths")
	}

	explicit := fpath != ""
	if !explicit {
		fpath = path.Join(paths.CONFIG_HOME, CONFIG_FILE)
	}

	settings := DefaultSettings()
	data, err := afero.ReadFile(fs, fpath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, errors.Wrapf(err, "failed to parse settings %s", fpath)
		}
	case explicit || !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "failed to read settings %s", fpath)
	}

	if err := settings.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid settings %s", fpath)
	}
	return &Configuration{Paths: *paths, Settings: settings, fs: fs}, nil
}
