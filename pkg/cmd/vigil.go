package cmd

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vigil"
)

const unset = "-"

type Flags struct {
	Paths    vigil.StandardPaths
	Config   string
	LogLevel string
}

// Lazily filled once the persistent flags are parsed
type environment struct {
	conf   *vigil.Configuration
	logger zerolog.Logger
	out    io.Writer
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "invalid log level %s", level)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger(), nil
}

func rootCommand(env *environment) *cobra.Command {
	var f Flags

	com := &cobra.Command{
		Use:           "vigil",
		Short:         "Subdomain reconnaissance and exposure triage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(f.LogLevel)
			if err != nil {
				return err
			}
			env.logger = logger

			// 1. bind the paths. Overrides defaults.
			vigil.BindStandardPaths(&f.Paths)
			// 2. load and validate the configuration
			conf, err := vigil.LoadSettings(f.Config, &f.Paths)
			if err != nil {
				return err
			}
			env.conf = conf
			return nil
		},
	}

	// This set of flags propagates
	fl := com.PersistentFlags()

	stdpaths := &f.Paths
	pathFlags := pflag.NewFlagSet("Standard Paths", pflag.ExitOnError)
	pathFlags.StringVar(&stdpaths.VIGIL_APPNAME, "stdpath.app", unset, "App name")
	pathFlags.StringVar(&stdpaths.CONFIG_HOME, "stdpath.config", unset, "Configuration directory")
	pathFlags.StringVar(&stdpaths.STATE_HOME, "stdpath.state", unset, "State directory")
	pathFlags.StringVar(&stdpaths.DATA_HOME, "stdpath.data", unset, "Data directory")
	fl.AddFlagSet(pathFlags)

	cfgFlags := pflag.NewFlagSet("Configuration", pflag.ExitOnError)
	cfgFlags.StringVar(&f.Config, "config", "", "Path to configuration file")
	cfgFlags.StringVar(&f.LogLevel, "log-level", zerolog.LevelInfoValue, "Log level: trace, debug, info, warn, error")
	fl.AddFlagSet(cfgFlags)

	com.AddCommand(
		scanCommand(env),
		rulesCommand(env),
	)
	return com
}

func Run() error {
	env := &environment{logger: zerolog.Nop(), out: os.Stdout}
	return rootCommand(env).Execute()
}
