// Package migrations embeds the PostgreSQL schema, one numbered file per step
// (001_init.sql, 002_...). Files are applied in lexical order.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
