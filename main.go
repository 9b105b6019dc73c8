// The main package for the newswire-ingest executable.
package main

import (
	"github.com/JakeFAU/newswire-ingest/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
