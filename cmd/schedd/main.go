package main

import (
	"fmt"
	"os"

	"github.com/t77yq/schedd/cmd/schedd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
