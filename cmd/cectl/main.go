package main

import (
	"os"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
