package store

import (
	"database/sql"
	"time"
)

// OrderLogEntry records one outbound dispatch: an order or an instant action
// sent (or attempted) toward a robot.
type OrderLogEntry struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	OrderID     string    `json:"order_id"`
	ActionType  string    `json:"action_type"`
	RobotSerial string    `json:"robot_serial"`
	Topic       string    `json:"topic"`
	HeaderID    int32     `json:"header_id"`
	Delivered   bool      `json:"delivered"`
	CreatedAt   time.Time `json:"created_at"`
}

func (db *DB) AppendDispatch(kind, orderID, actionType, robotSerial, topic string, headerID int32, delivered bool) error {
	_, err := db.Exec(db.Q(`INSERT INTO order_log (kind, order_id, action_type, robot_serial, topic, header_id, delivered) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		kind, orderID, actionType, robotSerial, topic, headerID, delivered)
	return err
}

func (db *DB) ListOrderLog(limit int) ([]*OrderLogEntry, error) {
	rows, err := db.Query(db.Q(`SELECT id, kind, order_id, action_type, robot_serial, topic, header_id, delivered, created_at FROM order_log ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderLog(rows)
}

func (db *DB) ListOrderDispatches(orderID string) ([]*OrderLogEntry, error) {
	rows, err := db.Query(db.Q(`SELECT id, kind, order_id, action_type, robot_serial, topic, header_id, delivered, created_at FROM order_log WHERE order_id=? ORDER BY id DESC`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderLog(rows)
}

func scanOrderLog(rows *sql.Rows) ([]*OrderLogEntry, error) {
	var entries []*OrderLogEntry
	for rows.Next() {
		var e OrderLogEntry
		var createdAt any
		if err := rows.Scan(&e.ID, &e.Kind, &e.OrderID, &e.ActionType, &e.RobotSerial, &e.Topic, &e.HeaderID, &e.Delivered, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
