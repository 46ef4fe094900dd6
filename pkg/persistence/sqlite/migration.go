package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_executions (
				id TEXT PRIMARY KEY,
				workflow_type TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'stopped')),
				total_steps INTEGER NOT NULL DEFAULT 0,
				completed_steps INTEGER NOT NULL DEFAULT 0,
				current_step TEXT,
				total_tokens_input INTEGER NOT NULL DEFAULT 0,
				total_tokens_output INTEGER NOT NULL DEFAULT 0,
				total_cost REAL NOT NULL DEFAULT 0,
				metadata TEXT,
				error_message TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				completed_at DATETIME
			);

			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);

			CREATE TABLE workflow_steps (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_name TEXT NOT NULL,
				step_order INTEGER NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped')),
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				tokens_input INTEGER NOT NULL DEFAULT 0,
				tokens_output INTEGER NOT NULL DEFAULT 0,
				cost REAL NOT NULL DEFAULT 0,
				model_name TEXT,
				cache_hit_tokens INTEGER NOT NULL DEFAULT 0,
				request_count INTEGER NOT NULL DEFAULT 0,
				progress TEXT,
				metrics TEXT,
				error_message TEXT,
				error_stack TEXT,
				started_at DATETIME,
				completed_at DATETIME,
				UNIQUE (execution_id, step_name)
			);

			CREATE INDEX idx_workflow_steps_execution_order ON workflow_steps(execution_id, step_order);
		`,
		2: `
			CREATE TABLE pipeline_state (
				state_key TEXT PRIMARY KEY,
				state_value TEXT NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE staging_papers (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				authors TEXT,
				abstract TEXT,
				categories TEXT,
				primary_category TEXT,
				url TEXT NOT NULL,
				pdf_url TEXT,
				comments TEXT,
				announcement_date TEXT NOT NULL,
				published_at DATETIME,
				analysis TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE papers (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				authors TEXT,
				abstract TEXT,
				categories TEXT,
				primary_category TEXT,
				url TEXT NOT NULL,
				pdf_url TEXT,
				comments TEXT,
				announcement_date TEXT NOT NULL,
				published_at DATETIME,
				analysis TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE INDEX idx_papers_announcement_date ON papers(announcement_date);

			CREATE TABLE user_profiles (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				name TEXT,
				interests TEXT NOT NULL,
				categories TEXT,
				min_score REAL NOT NULL DEFAULT 0,
				max_papers INTEGER NOT NULL DEFAULT 0,
				active BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE filter_results (
				user_id TEXT NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
				paper_id TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected')),
				score REAL NOT NULL DEFAULT 0,
				reason TEXT,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (user_id, paper_id)
			);

			CREATE TABLE reports (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
				announcement_date TEXT NOT NULL,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				paper_ids TEXT,
				created_at DATETIME NOT NULL,
				sent_at DATETIME,
				UNIQUE (user_id, announcement_date)
			);
		`,
	}
}
