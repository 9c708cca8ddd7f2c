// Command digital-earth wires the ingest scheduler, tile renderer,
// retention cleanup, and terrain builder into one cobra CLI, the way
// geo-index wires a single subcommand around a persistent database
// connection.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
