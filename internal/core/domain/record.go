package domain

import "time"

// Record is a normalized unit produced by a source adapter.
// Fields is mutated only by filter/transform stages before it
// reaches the target processor.
type Record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

// Clone returns a deep-enough copy so transform stages never alias
// the adapter's field map.
func (r *Record) Clone() *Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &Record{
		ID:        r.ID,
		Fields:    fields,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
