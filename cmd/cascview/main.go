// Command cascview inspects and extracts files from a local installation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cascview:", err)
		os.Exit(1)
	}
}
