// internal/model/record.go
package model

// Record is one recipient row: an immutable field map plus a dense,
// zero-based identity assigned at load time and a mutable status.
type Record struct {
	ID     int               `json:"record_id"`
	Fields map[string]string `json:"fields"`
	Status Status            `json:"status"`
}

// Field returns the value for a column, or "" when absent.
func (r Record) Field(name string) string {
	return r.Fields[name]
}

// Clone returns a deep copy so workers never share the field map with the
// owning record set.
func (r Record) Clone() Record {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Fields: fields, Status: r.Status}
}
