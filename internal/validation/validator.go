package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/model"
)

const (
	// Size limits
	MaxTableNameSize = 63
	MaxKeySize       = 1024
)

// Validator validates engine operations
type Validator struct {
	maxTableNameSize int
	maxKeySize       int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxTableNameSize: MaxTableNameSize,
		maxKeySize:       MaxKeySize,
	}
}

// ValidateWrite validates an insert/upsert operation
func (v *Validator) ValidateWrite(table, key string, doc model.Document) error {
	if err := v.ValidateTable(table); err != nil {
		return err
	}
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	if doc == nil {
		return errors.InvalidArgument("document is required", nil)
	}
	return nil
}

// ValidateTable validates a logical table name. Table names end up inside
// DDL statements, so the charset is restricted to SQL-identifier-safe runes.
func (v *Validator) ValidateTable(table string) error {
	if table == "" {
		return errors.InvalidTable(table, "table name cannot be empty")
	}
	if len(table) > v.maxTableNameSize {
		return errors.InvalidTable(table, fmt.Sprintf("table name exceeds maximum size of %d bytes", v.maxTableNameSize))
	}
	for i, r := range table {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return errors.InvalidTable(table, "table name must match [A-Za-z_][A-Za-z0-9_]*")
	}
	return nil
}

// ValidateKey validates a record key
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		return errors.InvalidKey(key, "key cannot be empty")
	}
	if len(key) > v.maxKeySize {
		return errors.InvalidKey(key, fmt.Sprintf("key exceeds maximum size of %d bytes", v.maxKeySize))
	}
	for _, r := range key {
		if unicode.IsControl(r) && r != '\t' {
			return errors.InvalidKey(key, "key cannot contain control characters")
		}
	}
	if strings.Contains(key, "\x00") {
		return errors.InvalidKey(key, "key cannot contain null bytes")
	}
	return nil
}
