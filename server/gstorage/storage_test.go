package gstorage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		filePath string
		expected string
	}{
		{"with prefix", "prod", "/var/safeline/db/safeline.db", "prod-safeline.db"},
		{"blank prefix", "  ", "db/safeline.db", "safeline.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ObjectName(tt.prefix, tt.filePath))
		})
	}
}
