// Package migrations embeds the master store's baseline schema so the binary
// can bootstrap a fresh deployment without external files.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
