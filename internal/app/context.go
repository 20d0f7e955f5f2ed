package app

import (
	"database/sql"
	"path/filepath"

	"taskline/internal/attach"
	"taskline/internal/config"
	"taskline/internal/engine"
	"taskline/internal/notify"
)

// ResolveConfig loads taskline.yml from the workspace, falling back to the
// built-in defaults when the file does not exist.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// NewStore builds the workspace content store from config.
func NewStore(workspace string, cfg *config.Config) attach.Store {
	dir := cfg.Storage.UploadsDir
	if dir == "" {
		dir = "storage"
	}
	return &attach.DiskStore{Root: filepath.Join(workspace, dir)}
}

// NewNotifier builds the outbound notifier; a blank webhook URL disables it.
func NewNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Notify.WebhookURL == "" {
		return notify.Noop{}
	}
	return notify.NewWebhook(cfg.Notify.WebhookURL)
}

// NewEngine wires a fully configured engine for the workspace.
func NewEngine(conn *sql.DB, workspace string, cfg *config.Config) engine.Engine {
	return engine.New(conn, cfg, NewStore(workspace, cfg), NewNotifier(cfg))
}
