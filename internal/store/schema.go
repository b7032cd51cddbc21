package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  source TEXT NOT NULL,
  priority TEXT NOT NULL,
  status TEXT NOT NULL,
  payload TEXT,
  metadata TEXT,
  created_at TEXT NOT NULL,
  processed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(type, created_at);

CREATE INDEX IF NOT EXISTS idx_events_status_created ON events(status, created_at);
`
