package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/weisyn/lending-router-go/router"
)

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the dispatch table after applying config overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			routes, err := cfg.RouteTable()
			if err != nil {
				return err
			}

			kinds := make([]router.ActionKind, 0, len(routes))
			for k := range routes {
				kinds = append(kinds, k)
			}
			sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tMODE\tTARGET")
			for _, k := range kinds {
				r := routes[k]
				target := r.Module
				if r.Mode == router.ModeCall {
					target = "*"
					if len(r.Method) > 0 {
						target = strings.Join(r.Method, ",")
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", k, r.Mode, target)
			}
			return w.Flush()
		},
	}
}
