// The main package for the cepscraper executable.
package main

import (
	"os"

	"github.com/JakeFAU/cep-candidate-scraper/cmd"
)

// main defers all execution to the Cobra command tree.
func main() {
	os.Exit(cmd.Execute())
}
