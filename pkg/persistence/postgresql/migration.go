package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_type VARCHAR(100) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'stopped')),
				total_steps INT NOT NULL DEFAULT 0,
				completed_steps INT NOT NULL DEFAULT 0,
				current_step VARCHAR(100),
				total_tokens_input BIGINT NOT NULL DEFAULT 0,
				total_tokens_output BIGINT NOT NULL DEFAULT 0,
				total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				metadata JSONB,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);

			CREATE TABLE workflow_steps (
				id VARCHAR(64) PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_name VARCHAR(100) NOT NULL,
				step_order INT NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped')),
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 0,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				tokens_input BIGINT NOT NULL DEFAULT 0,
				tokens_output BIGINT NOT NULL DEFAULT 0,
				cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				model_name VARCHAR(100),
				cache_hit_tokens BIGINT NOT NULL DEFAULT 0,
				request_count BIGINT NOT NULL DEFAULT 0,
				progress JSONB,
				metrics JSONB,
				error_message TEXT,
				error_stack TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (execution_id, step_name)
			);

			CREATE INDEX idx_workflow_steps_execution_order ON workflow_steps(execution_id, step_order);
		`,
		2: `
			CREATE TABLE pipeline_state (
				state_key VARCHAR(100) PRIMARY KEY,
				state_value TEXT NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE staging_papers (
				id VARCHAR(64) PRIMARY KEY,
				title TEXT NOT NULL,
				authors JSONB,
				abstract TEXT,
				categories JSONB,
				primary_category VARCHAR(50),
				url TEXT NOT NULL,
				pdf_url TEXT,
				comments TEXT,
				announcement_date VARCHAR(10) NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				analysis JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE papers (LIKE staging_papers INCLUDING ALL);

			CREATE INDEX idx_papers_announcement_date ON papers(announcement_date);

			CREATE TABLE user_profiles (
				id VARCHAR(64) PRIMARY KEY,
				email VARCHAR(255) NOT NULL,
				name VARCHAR(255),
				interests TEXT NOT NULL,
				categories JSONB,
				min_score DOUBLE PRECISION NOT NULL DEFAULT 0,
				max_papers INT NOT NULL DEFAULT 0,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE filter_results (
				user_id VARCHAR(64) NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
				paper_id VARCHAR(64) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected')),
				score DOUBLE PRECISION NOT NULL DEFAULT 0,
				reason TEXT,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (user_id, paper_id)
			);

			CREATE TABLE reports (
				id VARCHAR(64) PRIMARY KEY,
				user_id VARCHAR(64) NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
				announcement_date VARCHAR(10) NOT NULL,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				paper_ids JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				sent_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (user_id, announcement_date)
			);
		`,
	}
}
