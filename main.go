// The main package for the lurk executable.
package main

import (
	"github.com/JakeFAU/lurk/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
