package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SchemaValidator checks that the archive schema matches what the code
// expects. It is run after migrations at startup.
type SchemaValidator struct {
	db *sqlx.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sqlx.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"messages":          "Message transcript",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	messageColumns := map[string]string{
		"seq":       "INTEGER",
		"id":        "TEXT",
		"from_user": "TEXT",
		"content":   "TEXT",
		"sent_at":   "DATETIME",
	}

	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the query indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_messages_sent_at":   "Time range queries",
		"idx_messages_from_user": "Per-user transcript",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type columnInfo struct {
	CID          int         `db:"cid"`
	Name         string      `db:"name"`
	Type         string      `db:"type"`
	NotNull      int         `db:"notnull"`
	DefaultValue interface{} `db:"dflt_value"`
	PK           int         `db:"pk"`
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	var columns []columnInfo
	if err := v.db.Select(&columns, fmt.Sprintf("PRAGMA table_info(%s)", tableName)); err != nil {
		return err
	}

	found := make(map[string]string, len(columns))
	for _, c := range columns {
		found[c.Name] = c.Type
	}

	for name, wantType := range expected {
		gotType, exists := found[name]
		if !exists {
			return fmt.Errorf("column %s not found", name)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", name, gotType, wantType)
		}
	}
	return nil
}
