package store

// BuiltinMigrations declares the orchestrator's schema in version order, grounded on
// original_source/kirolinter/database/models.py's table layout and §3/§6 of the persisted-state
// design. Each migration's down-SQL is the inverse DROP; Migrator.Rollback runs the down-SQL of
// the one migration it is given.
func BuiltinMigrations() []Migration {
	return []Migration{
		{
			Version: "0001",
			Name:    "pipeline_registry",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS pipeline_registry (
					pipeline_id    TEXT PRIMARY KEY,
					platform       TEXT NOT NULL,
					repository     TEXT NOT NULL,
					external_id    TEXT NOT NULL,
					name           TEXT NOT NULL,
					status         TEXT NOT NULL,
					success_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
					avg_duration_s DOUBLE PRECISION NOT NULL DEFAULT 0,
					run_count      BIGINT NOT NULL DEFAULT 0,
					registered_at  TIMESTAMPTZ NOT NULL,
					updated_at     TIMESTAMPTZ NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_pipeline_registry_repo ON pipeline_registry (repository);
				CREATE INDEX IF NOT EXISTS idx_pipeline_registry_platform ON pipeline_registry (platform);`,
			DownSQL: `DROP TABLE IF EXISTS pipeline_registry;`,
		},
		{
			Version: "0002",
			Name:    "workflow_definitions_and_executions",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS workflow_definitions (
					definition_id TEXT PRIMARY KEY,
					name          TEXT NOT NULL,
					nodes         JSONB NOT NULL,
					created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE TABLE IF NOT EXISTS workflow_executions (
					execution_id  TEXT PRIMARY KEY,
					definition_id TEXT NOT NULL,
					status        TEXT NOT NULL,
					triggered_by  TEXT NOT NULL,
					environment   TEXT NOT NULL,
					input         JSONB,
					output        JSONB,
					error_data    JSONB,
					started_at    TIMESTAMPTZ NOT NULL,
					completed_at  TIMESTAMPTZ
				);
				CREATE INDEX IF NOT EXISTS idx_workflow_executions_definition ON workflow_executions (definition_id);
				CREATE INDEX IF NOT EXISTS idx_workflow_executions_status ON workflow_executions (status);
				CREATE TABLE IF NOT EXISTS workflow_stage_results (
					execution_id TEXT NOT NULL REFERENCES workflow_executions (execution_id) ON DELETE CASCADE,
					stage_id     TEXT NOT NULL,
					stage_name   TEXT NOT NULL,
					stage_type   TEXT NOT NULL,
					status       TEXT NOT NULL,
					started_at   TIMESTAMPTZ NOT NULL,
					completed_at TIMESTAMPTZ,
					output       JSONB,
					error        TEXT,
					retry_count  INT NOT NULL DEFAULT 0,
					PRIMARY KEY (execution_id, stage_id)
				);`,
			DownSQL: `DROP TABLE IF EXISTS workflow_stage_results; DROP TABLE IF EXISTS workflow_executions; DROP TABLE IF EXISTS workflow_definitions;`,
		},
		{
			Version: "0003",
			Name:    "quality_gates",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS quality_gate_executions (
					id            BIGSERIAL PRIMARY KEY,
					execution_id  TEXT NOT NULL,
					gate_name     TEXT NOT NULL,
					score         DOUBLE PRECISION NOT NULL,
					passed        BOOLEAN NOT NULL,
					status        TEXT NOT NULL,
					started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
					completed_at  TIMESTAMPTZ
				);
				CREATE INDEX IF NOT EXISTS idx_quality_gate_executions_execution ON quality_gate_executions (execution_id);`,
			DownSQL: `DROP TABLE IF EXISTS quality_gate_executions;`,
		},
		{
			Version: "0004",
			Name:    "risk_and_deployments",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS risk_assessments (
					id                  BIGSERIAL PRIMARY KEY,
					repository          TEXT NOT NULL,
					commit_hash         TEXT NOT NULL,
					risk_score          DOUBLE PRECISION NOT NULL,
					risk_level          TEXT NOT NULL,
					contributing_factors JSONB NOT NULL DEFAULT '[]',
					created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE INDEX IF NOT EXISTS idx_risk_assessments_repo ON risk_assessments (repository);
				CREATE TABLE IF NOT EXISTS deployments (
					id            BIGSERIAL PRIMARY KEY,
					environment   TEXT NOT NULL,
					repository    TEXT NOT NULL,
					commit_hash   TEXT NOT NULL,
					execution_id  TEXT,
					status        TEXT NOT NULL,
					started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
					completed_at  TIMESTAMPTZ
				);
				CREATE INDEX IF NOT EXISTS idx_deployments_repo_env ON deployments (repository, environment);`,
			DownSQL: `DROP TABLE IF EXISTS deployments; DROP TABLE IF EXISTS risk_assessments;`,
		},
		{
			Version: "0005",
			Name:    "metrics_and_analytics",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS devops_metrics (
					id         BIGSERIAL PRIMARY KEY,
					repository TEXT NOT NULL,
					name       TEXT NOT NULL,
					value      DOUBLE PRECISION NOT NULL,
					dimensions JSONB,
					timestamp  TIMESTAMPTZ NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_devops_metrics_repo_name ON devops_metrics (repository, name, timestamp);
				CREATE TABLE IF NOT EXISTS analytics_aggregations (
					id               BIGSERIAL PRIMARY KEY,
					window_start     TIMESTAMPTZ NOT NULL,
					window_end       TIMESTAMPTZ NOT NULL,
					metric_name      TEXT NOT NULL,
					aggregation_type TEXT NOT NULL,
					value            DOUBLE PRECISION NOT NULL,
					dimensions       JSONB
				);
				CREATE INDEX IF NOT EXISTS idx_analytics_aggregations_window ON analytics_aggregations (metric_name, window_start);`,
			DownSQL: `DROP TABLE IF EXISTS analytics_aggregations; DROP TABLE IF EXISTS devops_metrics;`,
		},
		{
			Version: "0006",
			Name:    "notifications_and_audit",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id          BIGSERIAL PRIMARY KEY,
					channel     TEXT NOT NULL,
					severity    TEXT NOT NULL,
					title       TEXT NOT NULL,
					body        TEXT NOT NULL,
					status      TEXT NOT NULL,
					sent_at     TIMESTAMPTZ,
					created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE TABLE IF NOT EXISTS audit_logs (
					id          BIGSERIAL PRIMARY KEY,
					actor       TEXT NOT NULL,
					action      TEXT NOT NULL,
					target_type TEXT NOT NULL,
					target_id   TEXT NOT NULL,
					detail      JSONB,
					timestamp   TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_target ON audit_logs (target_type, target_id);`,
			DownSQL: `DROP TABLE IF EXISTS audit_logs; DROP TABLE IF EXISTS notifications;`,
		},
		{
			Version: "0007",
			Name:    "system_configuration",
			UpSQL: `
				CREATE TABLE IF NOT EXISTS system_configuration (
					key        TEXT PRIMARY KEY,
					value      TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);`,
			DownSQL: `DROP TABLE IF EXISTS system_configuration;`,
		},
	}
}
