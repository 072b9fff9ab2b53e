package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE definitions (
				id TEXT NOT NULL,
				version INTEGER NOT NULL,
				name TEXT NOT NULL,
				body JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE TABLE trigger_index (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				match_key TEXT NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT true,
				config JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_trigger_index_definition ON trigger_index(definition_id);
			CREATE INDEX idx_trigger_index_match ON trigger_index(kind, match_key);

			CREATE TABLE run_sequences (
				run_id TEXT PRIMARY KEY,
				last_sequence BIGINT NOT NULL
			);

			CREATE TABLE run_events (
				run_id TEXT NOT NULL REFERENCES run_sequences(run_id),
				sequence BIGINT NOT NULL,
				schema_version INTEGER NOT NULL,
				kind TEXT NOT NULL,
				payload JSONB NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (run_id, sequence)
			);
		`,
		2: `
			CREATE TABLE workflow_memory (
				workflow_id TEXT PRIMARY KEY,
				version BIGINT NOT NULL,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE blobs (
				key TEXT PRIMARY KEY,
				data BYTEA NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
		3: `
			CREATE TABLE runs (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL,
				definition_version INTEGER NOT NULL,
				trigger_id TEXT,
				start_node_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				cancel_requested BOOLEAN NOT NULL DEFAULT false,
				last_sequence BIGINT NOT NULL,
				executions JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_definition ON runs(definition_id, created_at DESC);

			CREATE TABLE run_claims (
				run_id TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_run_claims_expires ON run_claims(expires_at);
		`,
	}
}
