package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ChristopherRabotin/irkgen"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func tableausCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tableaus",
		Short: "Lists the available integrators",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := tableauRows()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTAGES\tSTRUCTURE\tCONTINUOUS OUTPUT")
			fmt.Fprintln(w, strings.Join(rows, "\n"))
			return w.Flush()
		},
	}
}

func tableauRows() ([]string, error) {
	tabs := make([]irkgen.Tableau, 0, len(registry.Names()))
	for _, name := range registry.Names() {
		t, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, t)
	}
	return lo.Map(tabs, func(t irkgen.Tableau, _ int) string {
		return fmt.Sprintf("%s\t%d\t%s\t%v", t.Name, t.Stages(), t.Structure, t.IsCollocation())
	}), nil
}
