package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (id,
                      start_time,
                      source,
                      model_path,
                      scaler_path)
VALUES (?, ?, ?, ?, ?)`

	endSessionSQL = `
UPDATE sessions
SET end_time = ?
WHERE id = ?`

	selectSessionSQL = `
SELECT id,
       start_time,
       end_time,
       source,
       model_path,
       scaler_path
FROM sessions
WHERE id = ?`

	insertTransitionSQL = `
INSERT INTO transitions (session_id,
                         timestamp,
                         old_label,
                         new_label,
                         confidence)
VALUES (?, ?, ?, ?, ?)`

	selectTransitionsSQL = `
SELECT id,
       session_id,
       timestamp,
       old_label,
       new_label,
       confidence
FROM transitions
WHERE session_id = ?
ORDER BY timestamp, id`
)

//go:embed schema.sql
var initSchemaSQL string
