// Package main is the leapbase command.
package main

import (
	"os"

	"github.com/leapstack-labs/leapbase/internal/cli"
	_ "github.com/leapstack-labs/leapbase/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapbase/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leapbase/pkg/adapters/sqlite"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
