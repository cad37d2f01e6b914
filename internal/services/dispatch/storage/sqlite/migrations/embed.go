package migrations

import "embed"

//go:embed dispatch/*.sql
var DispatchFS embed.FS
