// The main package for the sitescraper executable.
package main

import (
	"github.com/JakeFAU/sitescraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
