// Package main is the entry point for the tsds-services CLI.
package main

import (
	"log"

	"github.com/bgeels/tsds-services/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
