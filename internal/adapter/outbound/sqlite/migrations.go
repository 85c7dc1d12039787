package sqlite

// migration is one numbered, forward-only schema change. Migrations run
// inside a transaction at startup under the store's single mutex; a
// failing migration aborts startup loudly rather than leaving the schema
// half-applied.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS trace_events (
				event_id TEXT PRIMARY KEY,
				timestamp TEXT NOT NULL,
				session_id TEXT NOT NULL,
				user_id TEXT,
				agent_id TEXT,
				tool_name TEXT NOT NULL,
				arguments_hash TEXT NOT NULL,
				policy_version TEXT,
				policy_decision TEXT NOT NULL,
				policy_reason TEXT,
				matched_rule TEXT,
				executed INTEGER NOT NULL,
				duration_ms INTEGER,
				error TEXT,
				is_write_action INTEGER NOT NULL,
				approval_token_present INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_trace_events_session ON trace_events(session_id, timestamp)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS incidents (
				incident_id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				status TEXT NOT NULL,
				risk_score INTEGER NOT NULL,
				reason TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				released_by TEXT,
				released_at TEXT
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_session_active
				ON incidents(session_id)
				WHERE status IN ('quarantined', 'revoked', 'failed')`,
		},
	},
	{
		version: 3,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS session_taints (
				session_id TEXT PRIMARY KEY,
				labels TEXT NOT NULL
			)`,
		},
	},
	{
		version: 4,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS replay_runs (
				run_id TEXT PRIMARY KEY,
				baseline_version TEXT NOT NULL,
				candidate_version TEXT NOT NULL,
				session_id TEXT,
				status TEXT NOT NULL,
				created_at TEXT NOT NULL,
				completed_at TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS replay_deltas (
				run_id TEXT NOT NULL,
				event_id TEXT NOT NULL,
				baseline_action TEXT NOT NULL,
				candidate_action TEXT NOT NULL,
				severity TEXT NOT NULL,
				root_cause TEXT NOT NULL,
				explanation TEXT,
				PRIMARY KEY (run_id, event_id)
			)`,
		},
	},
	{
		version: 5,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS rollouts (
				rollout_id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				baseline_version TEXT NOT NULL,
				candidate_version TEXT NOT NULL,
				status TEXT NOT NULL,
				verdict TEXT NOT NULL,
				rolled_back INTEGER NOT NULL,
				critical INTEGER NOT NULL,
				high INTEGER NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_rollouts_triple
				ON rollouts(tenant_id, baseline_version, candidate_version)`,
		},
	},
	{
		version: 6,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS transparency_checkpoints (
				session_id TEXT NOT NULL,
				root_hash TEXT NOT NULL,
				event_count INTEGER NOT NULL,
				anchored_at TEXT NOT NULL,
				anchor_source TEXT,
				status TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON transparency_checkpoints(session_id, anchored_at)`,
		},
	},
	{
		version: 7,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS policy_revisions (
				id TEXT PRIMARY KEY,
				version TEXT NOT NULL,
				status TEXT NOT NULL,
				bundle TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 8,
		stmts: []string{
			// Evidence archives are write-once: the trigger rejects any
			// UPDATE or DELETE against an existing row.
			`CREATE TABLE IF NOT EXISTS evidence_archives (
				archive_id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				format TEXT NOT NULL,
				payload BLOB NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE TRIGGER IF NOT EXISTS evidence_archives_no_update
				BEFORE UPDATE ON evidence_archives
				BEGIN
					SELECT RAISE(ABORT, 'evidence_archives is write-once');
				END`,
			`CREATE TRIGGER IF NOT EXISTS evidence_archives_no_delete
				BEFORE DELETE ON evidence_archives
				BEGIN
					SELECT RAISE(ABORT, 'evidence_archives is write-once');
				END`,
		},
	},
	{
		version: 9,
		stmts: []string{
			// One row per incident state transition, append-only alongside
			// the mutable incidents row above.
			`CREATE TABLE IF NOT EXISTS incident_events (
				event_id TEXT PRIMARY KEY,
				incident_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				detail TEXT,
				timestamp TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_incident_events_incident ON incident_events(incident_id, timestamp)`,
		},
	},
}
