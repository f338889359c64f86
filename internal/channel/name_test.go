package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		id   int64
	}{
		{"projectid-42", KindProject, 42},
		{"videoid-7", KindVideo, 7},
		{"generic", KindGeneric, 0},
		{"dummy", KindOpaque, 0},
		{"projectid-", KindOpaque, 0},
		{"projectid-abc", KindOpaque, 0},
		{"videoid-1x", KindOpaque, 0},
		// The prefix is a literal, not a character set: stripping must
		// not fire on partial or reordered prefixes.
		{"rojectid-42", KindOpaque, 0},
		{"xprojectid-42", KindOpaque, 0},
		{"", KindOpaque, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name := ParseName(tt.raw)
			assert.Equal(t, tt.kind, name.Kind)
			assert.Equal(t, tt.id, name.ID)
			assert.Equal(t, tt.raw, name.Raw)
		})
	}
}

func TestChannelBuilders(t *testing.T) {
	assert.Equal(t, "projectid-5", ProjectChannel(5))
	assert.Equal(t, "videoid-9", VideoChannel(9))
}

func TestProjectID(t *testing.T) {
	t.Run("finds the project channel", func(t *testing.T) {
		id, ok := ProjectID([]string{"videoid-3", "projectid-8", "generic"})
		assert.True(t, ok)
		assert.Equal(t, int64(8), id)
	})

	t.Run("no project channel", func(t *testing.T) {
		_, ok := ProjectID([]string{"videoid-3", "generic"})
		assert.False(t, ok)
	})
}
