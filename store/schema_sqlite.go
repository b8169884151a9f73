package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS order_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    kind         TEXT NOT NULL,
    order_id     TEXT NOT NULL DEFAULT '',
    action_type  TEXT NOT NULL DEFAULT '',
    robot_serial TEXT NOT NULL,
    topic        TEXT NOT NULL,
    header_id    INTEGER NOT NULL,
    delivered    INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_order_log_order ON order_log(order_id);
CREATE INDEX IF NOT EXISTS idx_order_log_serial ON order_log(robot_serial);

CREATE TABLE IF NOT EXISTS robot_event (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    robot_serial TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_robot_event_serial ON robot_event(robot_serial);
`
