package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print table statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			st := s.Stats()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			row := func(label string, n int) {
				fmt.Fprintf(w, "%s\t%s\n", label, humanize.Comma(int64(n)))
			}
			row("index shards", st.IndexShards)
			row("index records", st.IndexRecords)
			row("index duplicates", st.IndexDuplicates)
			row("encoding entries", st.EncodingEntries)
			row("root names", st.RootNames)
			row("root records", st.RootRecords)
			row("root orphans", st.RootOrphans)
			return w.Flush()
		},
	}
}
