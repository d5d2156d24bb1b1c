package main

import (
	"database/sql"
)

// ensureTables creates the necessary tables if they don't exist.
func ensureTables(db *sql.DB) error {
	// Published page document (single row): the full item collection plus
	// page metadata, stored as one JSON payload.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS page (
        id TINYINT PRIMARY KEY,
        doc LONGTEXT NOT NULL,
        description TEXT,
        sort_mode VARCHAR(32),
        updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
    )`); err != nil {
		return err
	}

	// Per-publish audit rows, handy for debugging a bad save.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS publishes (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        item_count INT NOT NULL,
        image_count INT NOT NULL,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    )`); err != nil {
		return err
	}

	return nil
}
