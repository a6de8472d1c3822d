package main

import (
	"os"

	"github.com/clipforge/clipforge/cmd/clipforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
