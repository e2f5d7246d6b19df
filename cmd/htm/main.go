// Command htm is the CLI for the hybrid translation memory engine:
// import bilingual files, search the store and manage instances.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
