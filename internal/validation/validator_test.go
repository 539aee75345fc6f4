package validation_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/memdb/internal/model"
	"github.com/devrev/memdb/internal/validation"
)

func TestValidateTable(t *testing.T) {
	v := validation.NewValidator()

	tests := []struct {
		name    string
		table   string
		wantErr bool
	}{
		{name: "simple", table: "users", wantErr: false},
		{name: "underscore prefix", table: "_sessions", wantErr: false},
		{name: "mixed case with digits", table: "Calls2024", wantErr: false},
		{name: "empty", table: "", wantErr: true},
		{name: "leading digit", table: "2users", wantErr: true},
		{name: "space", table: "user records", wantErr: true},
		{name: "dash", table: "user-records", wantErr: true},
		{name: "semicolon", table: "users;drop", wantErr: true},
		{name: "too long", table: strings.Repeat("a", 64), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateTable(tt.table)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	v := validation.NewValidator()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "simple", key: "call_001", wantErr: false},
		{name: "uuid-ish", key: "9b2d-41f7", wantErr: false},
		{name: "tab allowed", key: "a\tb", wantErr: false},
		{name: "empty", key: "", wantErr: true},
		{name: "null byte", key: "a\x00b", wantErr: true},
		{name: "newline", key: "a\nb", wantErr: true},
		{name: "too long", key: strings.Repeat("k", 1025), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWrite(t *testing.T) {
	v := validation.NewValidator()

	assert.NoError(t, v.ValidateWrite("users", "a", model.Document{"n": "A"}))
	assert.Error(t, v.ValidateWrite("users", "a", nil))
	assert.Error(t, v.ValidateWrite("", "a", model.Document{}))
	assert.Error(t, v.ValidateWrite("users", "", model.Document{}))
}
