// Package migrations embeds the SQL schema files applied by wmsctl migrate.
package migrations

import "embed"

// Files holds the ordered *.sql migrations.
//
//go:embed *.sql
var Files embed.FS
