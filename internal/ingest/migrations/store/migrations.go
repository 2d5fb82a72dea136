// Package store embeds the PostgreSQL schema migrations for the record store.
package store

import "embed"

//go:embed *.sql
var Migrations embed.FS
