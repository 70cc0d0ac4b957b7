// Command ledgerctl runs the ingestion pipeline on local statement files
// against an in-memory store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
