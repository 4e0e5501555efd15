package accounts

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

//go:embed views
var viewsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// GetViewsFS returns the page and email templates for this package
func GetViewsFS() embed.FS {
	return viewsFS
}
