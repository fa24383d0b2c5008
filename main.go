package main

import (
	"os"

	"homelab-backup/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
