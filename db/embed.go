// Package db embeds the versioned SQL migrations.
package db

import "embed"

// Migrations holds migrations/NNN_name.sql. Files are applied in name order
// and the name without extension is the recorded version.
//
//go:embed migrations/*.sql
var Migrations embed.FS
