package sqlite

const schemaSQL = `
-- Users: admins, named coders and minted guests
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT,
	is_admin INTEGER NOT NULL DEFAULT 0,
	password_hash TEXT,
	restricted_job INTEGER,
	created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_name ON users(name);

-- Coding jobs
CREATE TABLE IF NOT EXISTS codingjobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	creator_id INTEGER NOT NULL REFERENCES users(id),
	restricted INTEGER NOT NULL DEFAULT 0,
	archived INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

-- Jobsets: per-variant codebook and rules (both stored as JSON blobs)
CREATE TABLE IF NOT EXISTS jobsets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	codingjob_id INTEGER NOT NULL REFERENCES codingjobs(id),
	name TEXT NOT NULL,
	codebook TEXT NOT NULL,
	rules TEXT NOT NULL,
	debriefing TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobsets_job ON jobsets(codingjob_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobsets_job_name ON jobsets(codingjob_id, name);

-- Units: opaque content plus optional conditionals (JSON)
CREATE TABLE IF NOT EXISTS units (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	codingjob_id INTEGER NOT NULL REFERENCES codingjobs(id),
	external_id TEXT NOT NULL,
	content TEXT,
	conditionals TEXT,
	unit_type TEXT NOT NULL DEFAULT 'code',
	position TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_units_job_external ON units(codingjob_id, external_id);

-- Jobset membership. fixed_index pins a unit to an ordinal in every
-- coder's sequence (negative = counted from the end)
CREATE TABLE IF NOT EXISTS jobset_units (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	jobset_id INTEGER NOT NULL REFERENCES jobsets(id),
	unit_id INTEGER NOT NULL REFERENCES units(id),
	fixed_index INTEGER,
	has_conditionals INTEGER NOT NULL DEFAULT 0,
	blocked INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jsu_jobset_unit ON jobset_units(jobset_id, unit_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jsu_fixed ON jobset_units(jobset_id, fixed_index)
	WHERE fixed_index IS NOT NULL;

-- Coder-to-job bindings, created lazily on first unit request
CREATE TABLE IF NOT EXISTS job_users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	codingjob_id INTEGER NOT NULL REFERENCES codingjobs(id),
	jobset_id INTEGER REFERENCES jobsets(id),
	can_code INTEGER NOT NULL DEFAULT 1,
	can_edit INTEGER NOT NULL DEFAULT 0,
	damage REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobusers_user_job ON job_users(user_id, codingjob_id);
CREATE INDEX IF NOT EXISTS idx_jobusers_job ON job_users(codingjob_id);

-- Annotations. The (unit_id, coder_id) unique index is the load-bearing
-- invariant that makes concurrent crowd serves safe
CREATE TABLE IF NOT EXISTS annotations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	codingjob_id INTEGER NOT NULL REFERENCES codingjobs(id),
	unit_id INTEGER NOT NULL REFERENCES units(id),
	coder_id INTEGER NOT NULL REFERENCES users(id),
	jobset_id INTEGER NOT NULL REFERENCES jobsets(id),
	unit_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	modified INTEGER NOT NULL,
	annotation TEXT NOT NULL DEFAULT '[]',
	damage REAL NOT NULL DEFAULT 0,
	report TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_annotations_unit_coder ON annotations(unit_id, coder_id);
CREATE INDEX IF NOT EXISTS idx_annotations_jobset_coder ON annotations(jobset_id, coder_id);
CREATE INDEX IF NOT EXISTS idx_annotations_coder_status ON annotations(coder_id, status);
CREATE INDEX IF NOT EXISTS idx_annotations_unit ON annotations(unit_id);
`

// InitSchema initializes the database schema
func (s *SQLiteDB) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}
	s.logger.Debug().Msg("Database schema initialized")
	return nil
}
