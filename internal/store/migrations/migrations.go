// Package migrations embeds the SQL schema migrations for the session
// message database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
