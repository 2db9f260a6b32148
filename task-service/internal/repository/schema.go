package repository

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                BIGSERIAL PRIMARY KEY,
	name              TEXT             NOT NULL,
	description       TEXT             NOT NULL,
	observation       TEXT,
	hourly_rate       DOUBLE PRECISION NOT NULL,
	budget            DOUBLE PRECISION NOT NULL,
	estimated_hours   INT              NOT NULL,
	active            BOOLEAN          NOT NULL,
	origin_project_id BIGINT           NOT NULL,
	created_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tasks_name ON tasks (name);
`
