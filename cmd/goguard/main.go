// Command goguard imputes, clusters and scores tabular network data.
package main

import (
	"os"

	"github.com/hed1ad/goguard/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
