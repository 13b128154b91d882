// The main package for the pubsearch executable.
package main

import (
	"github.com/JakeFAU/pubsearch/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
