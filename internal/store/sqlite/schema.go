package sqlite

const schema = `
-- Concepts: one row per distinct content fingerprint
CREATE TABLE IF NOT EXISTS concepts (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_concepts_created_at ON concepts(created_at);

-- Enrichment records: immutable per (concept, service)
CREATE TABLE IF NOT EXISTS enrichment_records (
    concept_id TEXT NOT NULL,
    service TEXT NOT NULL,
    output TEXT NOT NULL,
    evidence TEXT NOT NULL DEFAULT '',
    cost REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (concept_id, service),
    FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
);

-- Items: one row per stored item, rewritten when the same item is re-run
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    concept_id TEXT NOT NULL,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    summary TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    fingerprint TEXT NOT NULL,
    copied INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0,
    stored_at DATETIME NOT NULL,
    FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_items_run ON items(run_id);
CREATE INDEX IF NOT EXISTS idx_items_concept ON items(concept_id);
CREATE INDEX IF NOT EXISTS idx_items_fingerprint ON items(fingerprint);

-- Runs: one row per pipeline run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    fetched INTEGER NOT NULL DEFAULT 0,
    analyzed INTEGER NOT NULL DEFAULT 0,
    copied INTEGER NOT NULL DEFAULT 0,
    stored INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    dedup_rate REAL NOT NULL DEFAULT 0,
    cost_saved REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

-- Run events: append-only observation log.
-- No FK to runs: an event append must not fail because run bookkeeping did.
CREATE TABLE IF NOT EXISTS run_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    item_id TEXT,
    event_type TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'info',
    message TEXT NOT NULL,
    data TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`
