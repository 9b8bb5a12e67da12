package main

import (
	"fmt"
	"log/slog"

	"github.com/iziplay/crm-indexer/pkg/config"
	"github.com/iziplay/crm-indexer/pkg/database"
	"github.com/iziplay/crm-indexer/pkg/index"
	"github.com/iziplay/crm-indexer/pkg/index/elastic"
	"github.com/iziplay/crm-indexer/pkg/sync"
)

// backends are the optional stores of a process. A nil indexes means
// report-only, with reason explaining why.
type backends struct {
	store   *database.Store
	indexes *index.Manager
	reason  string
}

// openBackends connects the relational store and the selected index
// backend. indexName is checked against the elasticsearch settings when
// set. Failures never stop the process: they disable the feature.
func openBackends(cfg config.Config, indexName string) backends {
	var b backends

	if cfg.Postgres.Enabled() {
		store, err := database.Open(cfg.Postgres)
		if err != nil {
			slog.Warn("Database unavailable, run history disabled", "error", err)
		} else {
			b.store = store
		}
	}

	opts := []index.Option{index.WithWorkers(cfg.Workers)}

	switch cfg.IndexBackend {
	case config.BackendPostgres:
		if b.store == nil {
			b.reason = "postgres index backend selected but the database is unavailable"
			return b
		}
		b.indexes = index.NewManager(b.store, opts...)

	case config.BackendElasticsearch:
		es := cfg.Elastic
		var err error
		if indexName != "" {
			es.Index = indexName
			err = es.Validate()
		} else {
			err = es.ValidateConnection()
		}
		if err != nil {
			b.reason = fmt.Sprintf("elasticsearch not configured: %v", err)
			return b
		}
		backend, err := elastic.New(es)
		if err != nil {
			b.reason = fmt.Sprintf("elasticsearch client: %v", err)
			return b
		}
		b.indexes = index.NewManager(backend, opts...)
	}

	return b
}

// syncOptions wires b into a Syncer.
func (b backends) syncOptions() []sync.Option {
	var opts []sync.Option
	if b.indexes != nil {
		opts = append(opts, sync.WithIndex(b.indexes))
	} else {
		opts = append(opts, sync.WithoutIndex(b.reason))
	}
	if b.store != nil {
		opts = append(opts, sync.WithHistory(b.store))
	}
	return opts
}
