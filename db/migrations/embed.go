// Package migrations embeds the Postgres schema for the ledger.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
