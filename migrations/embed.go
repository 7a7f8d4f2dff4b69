// Package migrations compiles the schema files into the binary so the
// server can migrate a fresh data directory without shipping SQL
// alongside the executable.
package migrations

import (
	"embed"

	"github.com/jmcallister/perimeter-core/internal/infrastructure/database"
)

//go:embed *.up.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files sit at the root of the embedded FS
}
