package main

import (
	"fmt"

	"github.com/ChristopherRabotin/irkgen"
	"github.com/ChristopherRabotin/irkgen/dataio"
	kitlog "github.com/go-kit/kit/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate model.toml [model.toml...]",
		Short: "Exports the integrator of every model file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usage(cmd, "at least one model file")
			}
			files, err := generate(args, confDir(cmd), exportConfig(cmd.Flags()))
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", ".", "output directory")
	cmd.Flags().Bool("timestamp", false, "write the creation date in the header of the generated files")
	return cmd
}

func exportConfig(flags *pflag.FlagSet) irkgen.ExportConfig {
	out, _ := flags.GetString("out")
	stamped, _ := flags.GetBool("timestamp")
	return irkgen.ExportConfig{Dir: out, Timestamp: stamped}
}

// loadProblems reads every model file. When several problems share a prefix, each gets its name as prefix.
func loadProblems(filenames []string, conf string) ([]*dataio.Problem, error) {
	problems := make([]*dataio.Problem, len(filenames))
	for i, filename := range filenames {
		pb, err := dataio.LoadProblem(filename, conf)
		if err != nil {
			return nil, err
		}
		problems[i] = pb
	}
	clashes := lo.FindDuplicatesBy(problems, func(pb *dataio.Problem) string { return pb.Options.Prefix })
	if len(clashes) > 0 {
		for _, pb := range problems {
			pb.Options.Prefix = pb.Name + "_"
		}
		names := lo.Map(problems, func(pb *dataio.Problem, _ int) string { return pb.Name })
		if dups := lo.FindDuplicates(names); len(dups) > 0 {
			return nil, fmt.Errorf("%w: several models named %v", irkgen.ErrConfiguration, dups)
		}
	}
	return problems, nil
}

func setup(pb *dataio.Problem, l kitlog.Logger) (*irkgen.IRKExport, error) {
	e := irkgen.NewIRKExport(registry, pb.Options, kitlog.With(l, "model", pb.Name))
	if err := e.SetModel(pb.Model); err != nil {
		return nil, fmt.Errorf("%s: %w", pb.Name, err)
	}
	if _, err := e.Setup(); err != nil {
		return nil, fmt.Errorf("%s: %w", pb.Name, err)
	}
	return e, nil
}

// generate exports every model file concurrently and returns the written files in argument order.
func generate(filenames []string, conf string, exp irkgen.ExportConfig) ([]string, error) {
	problems, err := loadProblems(filenames, conf)
	if err != nil {
		return nil, err
	}
	written := make([]string, len(problems))
	var g errgroup.Group
	for i, pb := range problems {
		g.Go(func() error {
			e, err := setup(pb, logger)
			if err != nil {
				return err
			}
			written[i], err = e.Export(exp)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Log("level", "notice", "subsys", "generate", "files", len(written))
	return written, nil
}
