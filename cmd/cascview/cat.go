package main

import (
	"github.com/spf13/cobra"
)

func newCatCmd(a *app) *cobra.Command {
	var sel selector
	cmd := &cobra.Command{
		Use:   "cat [name]",
		Short: "Write a file's decoded content to stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sel.resolve(args); err != nil {
				return err
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := sel.open(s)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = f.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	sel.register(cmd)
	return cmd
}
