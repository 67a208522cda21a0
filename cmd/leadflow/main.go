package main

import (
	"os"

	"github.com/jeeves-cluster-organization/leadflow/cmd/leadflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
