package repository

const projectSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT             NOT NULL,
	description     TEXT             NOT NULL,
	progress        INT,
	total_cost      DOUBLE PRECISION NOT NULL,
	estimated_hours INT              NOT NULL,
	budget          DOUBLE PRECISION NOT NULL,
	client          TEXT,
	client_address  TEXT,
	active          BOOLEAN          NOT NULL,
	version         BIGINT           NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_projects_name ON projects (name);

CREATE TABLE IF NOT EXISTS project_tasks (
	project_id        BIGINT           NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
	task_id           BIGINT           NOT NULL,
	position          BIGSERIAL,
	name              TEXT             NOT NULL,
	description       TEXT             NOT NULL,
	observation       TEXT,
	hourly_rate       DOUBLE PRECISION NOT NULL,
	budget            DOUBLE PRECISION NOT NULL,
	estimated_hours   INT              NOT NULL,
	active            BOOLEAN          NOT NULL,
	origin_project_id BIGINT           NOT NULL,
	created_at        TIMESTAMPTZ      NOT NULL,
	updated_at        TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (project_id, task_id)
);

CREATE TABLE IF NOT EXISTS related_projects (
	id                BIGSERIAL PRIMARY KEY,
	project_id        BIGINT      NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
	target_project_id BIGINT      NOT NULL,
	name              TEXT        NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (project_id, target_project_id),
	CHECK (project_id <> target_project_id)
);
CREATE INDEX IF NOT EXISTS idx_related_projects_target ON related_projects (target_project_id);
`
