package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/fclpkg/fclrecipe/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "0.6.0-dev"

func main() {
	if err := cli.ExecuteWithVersion(version); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("[fclrecipe]"), err)
		os.Exit(1)
	}
}
