// Command rufus is the selector-driven web scraper CLI.
package main

import (
	"os"

	"github.com/rufuslabs/rufus/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
