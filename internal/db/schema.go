package db

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL CHECK (role IN ('member', 'admin')),
		api_key TEXT NOT NULL UNIQUE,
		credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern TEXT NOT NULL,
		action TEXT NOT NULL CHECK (action IN ('AUTO_ACCEPT', 'AUTO_REJECT')),
		order_index INTEGER NOT NULL UNIQUE,
		created_by INTEGER REFERENCES users(id),
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		command_text TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('REJECTED', 'PENDING_APPROVAL', 'EXECUTED')),
		matched_rule_id INTEGER REFERENCES rules(id),
		risk_score INTEGER NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 10),
		risk_analysis TEXT NOT NULL DEFAULT '',
		approval_count INTEGER NOT NULL DEFAULT 0 CHECK (approval_count >= 0),
		required_approvals INTEGER NOT NULL DEFAULT 2 CHECK (required_approvals >= 1),
		credits_deducted INTEGER NOT NULL DEFAULT 0 CHECK (credits_deducted IN (0, 1)),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK ((status = 'EXECUTED') = (credits_deducted = 1))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_user ON commands(user_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status)`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command_id INTEGER NOT NULL REFERENCES commands(id),
		admin_id INTEGER NOT NULL REFERENCES users(id),
		approved INTEGER NOT NULL CHECK (approved IN (0, 1)),
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_command ON approvals(command_id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER REFERENCES users(id),
		action TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs(action)`,
}
