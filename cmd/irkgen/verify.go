package main

import (
	"fmt"

	"github.com/ChristopherRabotin/irkgen"
	"github.com/ChristopherRabotin/irkgen/codegen"
	"github.com/ChristopherRabotin/irkgen/dataio"
	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify model.toml",
		Short: "Runs the generated integrator over the grid and compares it with an RK4 reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usage(cmd, "one model file")
			}
			refSteps, _ := cmd.Flags().GetInt("ref-steps")
			tol, _ := cmd.Flags().GetFloat64("tolerance")
			states, _ := cmd.Flags().GetString("states")
			rpt, err := verify(args[0], confDir(cmd), refSteps, states)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d intervals, max error %.3e\n", len(rpt.States), rpt.MaxError)
			if rpt.MaxError > tol {
				return fmt.Errorf("%w: max error %.3e above %.3e", irkgen.ErrNumerical, rpt.MaxError, tol)
			}
			return nil
		},
	}
	cmd.Flags().Int("ref-steps", 10, "RK4 steps per integrator step")
	cmd.Flags().Float64("tolerance", 1e-6, "largest accepted state difference")
	cmd.Flags().String("states", "", "file receiving the states at the end of every interval")
	return cmd
}

func verify(filename, conf string, refSteps int, states string) (irkgen.Report, error) {
	pb, err := dataio.LoadProblem(filename, conf)
	if err != nil {
		return irkgen.Report{}, err
	}
	e, err := setup(pb, logger)
	if err != nil {
		return irkgen.Report{}, err
	}
	rpt, err := e.Verify(codegen.NewMachine(e.Program()), pb.X0, pb.U, pb.P, refSteps)
	if err != nil || states == "" {
		return rpt, err
	}
	histChan := make(chan dataio.State)
	done := make(chan error, 1)
	go func() { done <- dataio.StreamStates(states, len(pb.X0), histChan) }()
	for i := range rpt.States {
		histChan <- dataio.State{Interval: i, X: rpt.States[i], Reference: rpt.Reference[i]}
	}
	close(histChan)
	return rpt, <-done
}
