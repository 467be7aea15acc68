package main

import (
	"os"

	"github.com/commonassist/casehub/internal/clientsync/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
