package store

import (
	"database/sql"
	"time"
)

// RobotEvent is one observed lifecycle event for a robot: a connection state
// change, a reported error, or similar.
type RobotEvent struct {
	ID          int64     `json:"id"`
	RobotSerial string    `json:"robot_serial"`
	EventType   string    `json:"event_type"`
	Detail      string    `json:"detail"`
	CreatedAt   time.Time `json:"created_at"`
}

func (db *DB) AppendRobotEvent(robotSerial, eventType, detail string) error {
	_, err := db.Exec(db.Q(`INSERT INTO robot_event (robot_serial, event_type, detail) VALUES (?, ?, ?)`),
		robotSerial, eventType, detail)
	return err
}

func (db *DB) ListRobotEvents(limit int) ([]*RobotEvent, error) {
	rows, err := db.Query(db.Q(`SELECT id, robot_serial, event_type, detail, created_at FROM robot_event ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRobotEvents(rows)
}

func (db *DB) ListRobotEventsBySerial(robotSerial string, limit int) ([]*RobotEvent, error) {
	rows, err := db.Query(db.Q(`SELECT id, robot_serial, event_type, detail, created_at FROM robot_event WHERE robot_serial=? ORDER BY id DESC LIMIT ?`), robotSerial, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRobotEvents(rows)
}

func scanRobotEvents(rows *sql.Rows) ([]*RobotEvent, error) {
	var events []*RobotEvent
	for rows.Next() {
		var e RobotEvent
		var createdAt any
		if err := rows.Scan(&e.ID, &e.RobotSerial, &e.EventType, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}
