package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// Persister is the persistence collaborator: it accepts the full item
// collection plus page metadata and reports success or failure. Treated as
// an opaque remote call by the rest of the core.
type Persister interface {
	SavePage(ctx context.Context, doc PageDocument) error
	LoadPage(ctx context.Context) (PageDocument, bool, error)
}

// mysqlPersister stores the page as a single JSON document row.
type mysqlPersister struct {
	db *sql.DB
}

func NewMySQLPersister(db *sql.DB) Persister {
	return &mysqlPersister{db: db}
}

func (p *mysqlPersister) SavePage(ctx context.Context, doc PageDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO page (id, doc, description, sort_mode)
        VALUES (1, ?, ?, ?)
        ON DUPLICATE KEY UPDATE doc=VALUES(doc), description=VALUES(description), sort_mode=VALUES(sort_mode)`,
		string(payload), doc.Meta.Description, doc.Meta.SortMode)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}

	imageCount := 0
	for i := range doc.Items {
		imageCount += len(doc.Items[i].Images())
	}
	if _, err := p.db.ExecContext(ctx, `INSERT INTO publishes (item_count, image_count) VALUES (?, ?)`,
		len(doc.Items), imageCount); err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	return nil
}

func (p *mysqlPersister) LoadPage(ctx context.Context) (PageDocument, bool, error) {
	var payload string
	row := p.db.QueryRowContext(ctx, `SELECT doc FROM page WHERE id = 1`)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return PageDocument{}, false, nil
		}
		return PageDocument{}, false, fmt.Errorf("scan page: %w", err)
	}
	var doc PageDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return PageDocument{}, false, fmt.Errorf("unmarshal page: %w", err)
	}
	return doc, true, nil
}

// memPersister keeps the published document in memory for dev mode.
type memPersister struct {
	mu    sync.Mutex
	doc   PageDocument
	saved bool
}

func NewMemPersister() Persister {
	return &memPersister{}
}

func (p *memPersister) SavePage(_ context.Context, doc PageDocument) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.saved = true
	return nil
}

func (p *memPersister) LoadPage(_ context.Context) (PageDocument, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc, p.saved, nil
}
