// Package vault embeds the SQLite schema migrations for the secret vault.
package vault

import "embed"

//go:embed *.sql
var Migrations embed.FS
