package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/iziplay/crm-indexer/pkg/index"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Search matches documents whose top level fields equal every term (AND logic)
// and whose body contains the free text, case-insensitively.
func (s *Store) Search(ctx context.Context, name string, q index.Query) (index.SearchResult, error) {
	db := s.db.WithContext(ctx).Model(&StoredDocument{}).Where("index_name = ?", name)

	fields := make([]string, 0, len(q.Terms))
	for field := range q.Terms {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		db = db.Where(datatypes.JSONQuery("body").Equals(q.Terms[field], field))
	}

	if t := strings.TrimSpace(q.Text); t != "" {
		db = db.Where("LOWER(CAST(body AS TEXT)) LIKE ?", "%"+strings.ToLower(t)+"%")
	}

	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return index.SearchResult{}, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}

	var rows []StoredDocument
	if err := db.Order("id").Limit(q.Size).Offset(q.From).Find(&rows).Error; err != nil {
		return index.SearchResult{}, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}

	result := index.SearchResult{Total: total, Documents: make([]index.Document, 0, len(rows))}
	for _, row := range rows {
		doc, err := row.Document()
		if err != nil {
			return index.SearchResult{}, err
		}
		result.Documents = append(result.Documents, *doc)
	}
	return result, nil
}
