package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE missions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				brief TEXT NOT NULL DEFAULT '',
				project_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'paused', 'gated', 'failed', 'completed')),
				phases JSONB NOT NULL DEFAULT '[]',
				current_phase_index INTEGER NOT NULL DEFAULT 0,
				checkpoint_index INTEGER NOT NULL DEFAULT 0 CHECK (checkpoint_index >= 0),
				session_id VARCHAR(255) NOT NULL,
				workspace TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_missions_status ON missions(status);
			CREATE INDEX idx_missions_project_id ON missions(project_id);
			CREATE INDEX idx_missions_created_at ON missions(created_at);
		`,
	}
}
