package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Definitions: one row per code, mirroring the current version
			CREATE TABLE workflow_definitions (
				code BIGINT PRIMARY KEY,
				project_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				tenant_code VARCHAR(255) NOT NULL DEFAULT '',
				timeout_seconds INTEGER NOT NULL DEFAULT 0,
				release_state VARCHAR(16) NOT NULL CHECK (release_state IN ('DRAFT', 'ONLINE', 'OFFLINE')),
				current_version INTEGER NOT NULL,
				owner VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_workflow_definitions_project_name ON workflow_definitions(project_id, name);
			CREATE INDEX idx_workflow_definitions_updated_at ON workflow_definitions(updated_at);
			CREATE INDEX idx_workflow_definitions_owner ON workflow_definitions(owner);

			-- Append-only version log
			CREATE TABLE workflow_definition_versions (
				code BIGINT NOT NULL REFERENCES workflow_definitions(code) ON DELETE CASCADE,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				global_parameters JSONB NOT NULL DEFAULT '[]',
				timeout_seconds INTEGER NOT NULL DEFAULT 0,
				tenant_code VARCHAR(255) NOT NULL DEFAULT '',
				layout JSONB,
				tasks JSONB NOT NULL DEFAULT '[]',
				relations JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (code, version)
			);
		`,
		2: `
			-- Run instances written by the execution engine, read for the instance tree
			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				definition_code BIGINT NOT NULL,
				parent_id VARCHAR(255),
				name VARCHAR(255) NOT NULL DEFAULT '',
				state VARCHAR(50) NOT NULL DEFAULT '',
				start_time TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_definition_code ON workflow_instances(definition_code);
			CREATE INDEX idx_workflow_instances_parent_id ON workflow_instances(parent_id);
		`,
	}
}
