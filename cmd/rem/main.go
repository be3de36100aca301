package main

import (
	"os"

	"github.com/remembrance-run/remembrance-core/cmd/rem/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
