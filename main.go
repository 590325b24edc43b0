// The main package for the docmirror executable.
package main

import (
	"github.com/JakeFAU/docmirror/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
