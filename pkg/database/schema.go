package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iziplay/crm-indexer/pkg/index"
	"gorm.io/datatypes"
)

type Model struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IndexSchema records the declared mapping of an index.
type IndexSchema struct {
	Model

	Name    string         `json:"name" gorm:"primaryKey"`
	Mapping datatypes.JSON `json:"mapping"`
}

// StoredDocument is one indexed document. (index_name, id) is unique so
// writes with the same id overwrite.
type StoredDocument struct {
	Model

	IndexName string         `json:"index" gorm:"primaryKey"`
	ID        string         `json:"id" gorm:"primaryKey"`
	Body      datatypes.JSON `json:"body"`
}

func newStoredDocument(name string, doc index.Document) (StoredDocument, error) {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return StoredDocument{}, fmt.Errorf("failed to encode document: %w", err)
	}
	return StoredDocument{
		IndexName: name,
		ID:        sanitizeString(doc.ID),
		Body:      datatypes.JSON(sanitizeString(string(body))),
	}, nil
}

func (d StoredDocument) Document() (*index.Document, error) {
	var body map[string]any
	if err := json.Unmarshal(d.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	return &index.Document{ID: d.ID, Body: body}, nil
}

// Run is the history entry of one pipeline run.
type Run struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	Pipeline   string         `json:"pipeline" gorm:"index"`
	Mode       string         `json:"mode"`
	Reason     string         `json:"reason,omitempty"`
	StartedAt  time.Time      `json:"startedAt" gorm:"index"`
	FinishedAt time.Time      `json:"finishedAt"`
	References int            `json:"references"`
	Resolved   int            `json:"resolved"`
	Invalid    int            `json:"invalid"`
	Fetched    int            `json:"fetched"`
	Indexed    int            `json:"indexed"`
	Failed     int            `json:"failed"`
	Error      string         `json:"error,omitempty"`
	Filters    datatypes.JSON `json:"filters,omitempty"`
	Complete   bool           `json:"complete"`
}
