package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

func newLsRootCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ls-root",
		Short: "List root table entries as name hash, file data id and content hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			entries := maps.Collect(s.RootEntries())
			hashes := slices.Sorted(maps.Keys(entries))
			w := cmd.OutOrStdout()
			printed := 0
			for _, h := range hashes {
				for _, rec := range entries[h] {
					if limit > 0 && printed == limit {
						return nil
					}
					if _, err := fmt.Fprintf(w, "%016x %d %s\n", h, rec.FileDataID, rec.ContentHash); err != nil {
						return err
					}
					printed++
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many records (0 for all)")
	return cmd
}
