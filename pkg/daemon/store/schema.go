package store

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - Legacy layout: human readable file_size, "2006-01-02 15:04:05" times, no alert IDs
// 2 - Byte sizes, RFC 3339 times, alert IDs
const CurrentSchemaVersion = 2

const schemaKey = prefixMeta + "__schema__"

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the stored schema, or nil if none is set.
func (s *Store) GetSchema() *Schema {
	data, err := s.get(schemaKey)
	if err != nil {
		return nil
	}
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil
	}
	return &schema
}

// SetSchema stores the schema version.
func (s *Store) SetSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// NeedsMigration reports whether stored state predates CurrentSchemaVersion.
func (s *Store) NeedsMigration() bool {
	return s.version() < CurrentSchemaVersion && s.has(stateKey)
}

// version returns the effective schema version. State without a schema
// record is the legacy layout.
func (s *Store) version() int {
	if schema := s.GetSchema(); schema != nil {
		return schema.Version
	}
	if s.has(stateKey) {
		return 1
	}
	return 0
}
