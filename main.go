package main

import (
	"os"

	"github.com/nexus-scanner/nexus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
