package app

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"fixline/internal/blob"
	"fixline/internal/config"
	"fixline/internal/db"
	"fixline/internal/engine"
	"fixline/internal/migrate"
)

// Bootstrap opens the workspace database, applies migrations, loads the
// optional fixline.yml and assembles an engine with a filesystem blob store.
// The caller owns the returned *sql.DB and must close it.
func Bootstrap(workspace string) (engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := ResolveConfig(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	blobs, err := blob.NewFSStore(BlobDir(workspace))
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("blob store: %w", err)
	}
	return engine.New(conn, cfg, blobs), conn, nil
}

// ResolveConfig loads fixline.yml when present and falls back to the
// built-in defaults otherwise.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// BlobDir returns the photo and signature storage root for a workspace.
func BlobDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".fixline", "blobs")
}
