package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/vigil/pkg/signature"
)

func rulesCommand(env *environment) *cobra.Command {
	com := &cobra.Command{
		Use:   "rules",
		Short: "Manage classification signatures",
	}

	check := &cobra.Command{
		Use:   "check <file>...",
		Short: "Parse signature files and report errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkSignatures(env, afero.NewOsFs(), args)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the signatures found in the signature directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigs, err := signature.Load(env.conf.Fs(), env.conf.Signatures())
			if err != nil {
				return err
			}
			for _, sig := range sigs {
				fmt.Fprintf(env.out, "%s\t%d rules\n", sig.Name(), len(sig.Rules()))
			}
			return nil
		},
	}

	com.AddCommand(check, list)
	return com
}

func checkSignatures(env *environment, fs afero.Fs, files []string) error {
	var failed int
	for _, fpath := range files {
		sig, err := signature.Check(fs, fpath)
		if err != nil {
			failed++
			fmt.Fprintf(env.out, "FAIL\t%s\t%v\n", fpath, err)
			continue
		}
		fmt.Fprintf(env.out, "ok\t%s\t%d rules\n", fpath, len(sig.Rules()))
	}
	if failed > 0 {
		return errors.Errorf("%d of %d signature files failed", failed, len(files))
	}
	return nil
}
