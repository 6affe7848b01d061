// Package main is the entry point for mongo-backup.
package main

import (
	"os"

	"github.com/imedwei/mongo-backup/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
