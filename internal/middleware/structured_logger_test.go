package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{
			name:     "empty query",
			query:    "",
			expected: "",
		},
		{
			name:     "no sensitive params",
			query:    "channels=dummy",
			expected: "channels=dummy",
		},
		{
			name:     "token is redacted",
			query:    "token=7d9f2c44&channels=dummy",
			expected: "channels=dummy&token=%5Bredacted%5D",
		},
		{
			name:     "case insensitive match",
			query:    "Token=7d9f2c44",
			expected: "Token=%5Bredacted%5D",
		},
		{
			name:     "unparseable query is fully redacted",
			query:    "a=%zz",
			expected: "[redacted]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, redactQueryString(tt.query))
		})
	}
}
