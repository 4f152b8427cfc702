package migrations

import "embed"

// FS contains the embedded reader cache schema.
//
//go:embed *.sql
var FS embed.FS
