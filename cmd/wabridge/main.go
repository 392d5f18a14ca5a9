package main

import (
	"os"

	"github.com/Lichas/wabridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
