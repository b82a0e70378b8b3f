package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lmnr-ai/ingest-core/pkg/store"
	"github.com/lmnr-ai/ingest-core/pkg/types"
)

// GetWorkspaceConfig implements store.RelationalStore.
func (c *Client) GetWorkspaceConfig(ctx context.Context, projectID string) (types.WorkspaceConfig, error) {
	var cfg types.WorkspaceConfig
	var dataPlaneURL sql.NullString

	row := c.db.QueryRowContext(ctx,
		`SELECT project_id, workspace_id, deployment_mode, data_plane_url
		 FROM workspace_configs WHERE project_id = $1`,
		projectID,
	)
	if err := row.Scan(&cfg.ProjectID, &cfg.WorkspaceID, &cfg.DeploymentMode, &dataPlaneURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.WorkspaceConfig{}, store.ErrWorkspaceConfigNotFound
		}
		return types.WorkspaceConfig{}, fmt.Errorf("failed to query workspace config: %w", err)
	}
	if dataPlaneURL.Valid {
		cfg.DataPlaneURL = &dataPlaneURL.String
	}
	return cfg, nil
}
