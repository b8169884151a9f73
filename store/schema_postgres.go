package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS order_log (
    id           BIGSERIAL PRIMARY KEY,
    kind         TEXT NOT NULL,
    order_id     TEXT NOT NULL DEFAULT '',
    action_type  TEXT NOT NULL DEFAULT '',
    robot_serial TEXT NOT NULL,
    topic        TEXT NOT NULL,
    header_id    INTEGER NOT NULL,
    delivered    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_order_log_order ON order_log(order_id);
CREATE INDEX IF NOT EXISTS idx_order_log_serial ON order_log(robot_serial);

CREATE TABLE IF NOT EXISTS robot_event (
    id           BIGSERIAL PRIMARY KEY,
    robot_serial TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_robot_event_serial ON robot_event(robot_serial);
`
