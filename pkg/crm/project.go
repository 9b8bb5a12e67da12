package crm

import (
	"time"

	"github.com/iziplay/crm-indexer/pkg/salesforce"
)

// projection copies record fields into a document body. Absent optional
// fields become nulls; the first failing required field is kept in err.
type projection struct {
	r   salesforce.Record
	out map[string]any
	err error
}

func project(r salesforce.Record) *projection {
	return &projection{r: r, out: make(map[string]any)}
}

func (p *projection) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *projection) requireString(key, path string) string {
	s, err := p.r.String(path)
	if err != nil {
		p.fail(err)
		p.out[key] = nil
		return ""
	}
	p.out[key] = s
	return s
}

func (p *projection) requireBool(key, path string) bool {
	b, err := p.r.Bool(path)
	if err != nil {
		p.fail(err)
		p.out[key] = nil
		return false
	}
	p.out[key] = b
	return b
}

func (p *projection) str(key, path string) {
	if s, ok := p.r.OptionalString(path); ok {
		p.out[key] = s
		return
	}
	p.out[key] = nil
}

func (p *projection) boolean(key, path string) {
	if b, ok := p.r.OptionalBool(path); ok {
		p.out[key] = b
		return
	}
	p.out[key] = nil
}

func (p *projection) number(key, path string) {
	if f, ok := p.r.OptionalFloat(path); ok {
		p.out[key] = f
		return
	}
	p.out[key] = nil
}

func (p *projection) integer(key, path string) {
	if f, ok := p.r.OptionalFloat(path); ok {
		p.out[key] = int(f)
		return
	}
	p.out[key] = nil
}

// datetime normalizes a datetime field to RFC 3339 in UTC.
func (p *projection) datetime(key, path string) (time.Time, bool) {
	t, ok := p.r.OptionalTime(path)
	if !ok {
		p.out[key] = nil
		return time.Time{}, false
	}
	p.out[key] = t.Format(time.RFC3339)
	return t, true
}

func (p *projection) date(key, path string) {
	if t, ok := p.r.OptionalTime(path); ok {
		p.out[key] = t.Format(time.DateOnly)
		return
	}
	p.out[key] = nil
}

func (p *projection) set(key string, v any) { p.out[key] = v }
