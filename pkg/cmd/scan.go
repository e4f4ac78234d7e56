package cmd

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vigil"
)

type ScanFlags struct {
	Concurrency int
	Nuclei      string
	Plugins     []string
	Signatures  []string
}

// Overrides the settings with the flags that were set
func (f ScanFlags) apply(cmd *cobra.Command, s *vigil.Settings) {
	if cmd.Flags().Changed("concurrency") {
		s.Concurrency = f.Concurrency
	}
	if cmd.Flags().Changed("nuclei") {
		s.Nuclei = f.Nuclei
	}
	s.Plugins = append(s.Plugins, f.Plugins...)
	s.Signatures = append(s.Signatures, f.Signatures...)
}

func scanCommand(env *environment) *cobra.Command {
	var f ScanFlags

	com := &cobra.Command{
		Use:   "scan <domain>",
		Short: "Discover, probe and classify the subdomains of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, &env.conf.Settings)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := vigil.NewEngine(env.conf, vigil.WithLogger(env.logger))
			if err != nil {
				return errors.Wrap(err, "failed to start engine")
			}
			defer eng.Close()

			report, err := eng.Run(ctx, args[0])
			if report != nil {
				if err := writeRecords(env, report); err != nil {
					return err
				}
			}
			return err
		},
	}

	fl := com.Flags()
	fl.IntVarP(&f.Concurrency, "concurrency", "c", 20, "Hosts handled at once")
	fl.StringVar(&f.Nuclei, "nuclei", "", "Path to the nuclei binary, enables vulnerability scans")
	fl.StringSliceVarP(&f.Plugins, "plugin", "p", nil, "Plugin binaries to load")
	fl.StringSliceVarP(&f.Signatures, "signatures", "s", nil, "Additional signature directories")
	return com
}

// One JSON document per classified record, then one per finding
func writeRecords(env *environment, report *vigil.Report) error {
	enc := json.NewEncoder(env.out)
	for i := range report.Classified {
		if err := enc.Encode(&report.Classified[i]); err != nil {
			return errors.Wrap(err, "failed to write record")
		}
	}
	for i := range report.Findings {
		if err := enc.Encode(&report.Findings[i]); err != nil {
			return errors.Wrap(err, "failed to write finding")
		}
	}
	return nil
}
