package services

import (
	"fmt"

	"chathistory/config"
)

const (
	tableChatHistory = "chat_history"

	colID           = "id"
	colSender       = "sender"
	colMessage      = "message"
	colTTSAudioLink = "tts_audio_link"
	colCreatedAt    = "created_at"
)

type queries struct {
	createTable string
	insert      string
	selectAfter string
}

var postgresQueries = queries{
	createTable: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  %s BIGSERIAL PRIMARY KEY,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT,
  %s TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		tableChatHistory,
		colID, colSender, colMessage, colTTSAudioLink, colCreatedAt,
	),
	insert: fmt.Sprintf(`INSERT INTO %s (%s, %s, %s) VALUES ($1, $2, $3);`,
		tableChatHistory, colSender, colMessage, colTTSAudioLink),
	selectAfter: fmt.Sprintf(`
SELECT %s, %s, %s, %s
FROM %s
WHERE %s > $1
ORDER BY %s ASC
LIMIT $2;`,
		colID, colSender, colMessage, colTTSAudioLink,
		tableChatHistory,
		colID,
		colID,
	),
}

var sqliteQueries = queries{
	createTable: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  %s INTEGER PRIMARY KEY AUTOINCREMENT,
  %s TEXT NOT NULL,
  %s TEXT NOT NULL,
  %s TEXT,
  %s DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
		tableChatHistory,
		colID, colSender, colMessage, colTTSAudioLink, colCreatedAt,
	),
	insert: fmt.Sprintf(`INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?);`,
		tableChatHistory, colSender, colMessage, colTTSAudioLink),
	selectAfter: fmt.Sprintf(`
SELECT %s, %s, %s, %s
FROM %s
WHERE %s > ?
ORDER BY %s ASC
LIMIT ?;`,
		colID, colSender, colMessage, colTTSAudioLink,
		tableChatHistory,
		colID,
		colID,
	),
}

func queriesFor(driver string) (queries, error) {
	switch driver {
	case config.DriverPostgres:
		return postgresQueries, nil
	case config.DriverSQLite:
		return sqliteQueries, nil
	default:
		return queries{}, fmt.Errorf("unsupported driver %q", driver)
	}
}
