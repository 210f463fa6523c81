package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newExtractCmd(a *app) *cobra.Command {
	var (
		sel selector
		out string
	)
	cmd := &cobra.Command{
		Use:   "extract [name]",
		Short: "Decode a file into the local filesystem",
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

			if out == "" {
				fi, err := f.Stat()
				if err != nil {
					return err
				}
				out = fi.Name()
			}
			start := time.Now()
			n, err := writeFile(out, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s in %s\n", out, humanize.Bytes(uint64(n)), time.Since(start).Round(time.Millisecond)) //nolint:gosec // n is non-negative
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: the file's base name)")
	return cmd
}

// writeFile writes src to path through a temporary file in the same
// directory, so a failed decode never leaves a partial file behind.
func writeFile(path string, src io.WriterTo) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cascview-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	n, err := src.WriteTo(tmp)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return n, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}
