package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	files, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Contains(t, files, "001_init.up.sql")
	assert.Contains(t, files, "001_init.down.sql")

	for _, file := range files {
		assert.True(t, strings.HasSuffix(file, ".up.sql") || strings.HasSuffix(file, ".down.sql"),
			"unexpected migration filename: %s", file)
	}
}

func TestValidate(t *testing.T) {
	// The embedded set must always be internally consistent: strict names,
	// up/down pairs, contiguous sequence starting at 001.
	assert.NoError(t, Validate())
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{name: "valid up", filename: "001_init.up.sql"},
		{name: "valid down", filename: "002_add_indexes.down.sql"},
		{name: "missing sequence", filename: "init.up.sql", wantErr: true},
		{name: "short sequence", filename: "1_init.up.sql", wantErr: true},
		{name: "bad direction", filename: "001_init.sideways.sql", wantErr: true},
		{name: "hyphenated name", filename: "001_init-schema.up.sql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFilename(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestValidatePairing(t *testing.T) {
	paired := []info{
		{sequence: 1, name: "init", direction: "up"},
		{sequence: 1, name: "init", direction: "down"},
	}
	assert.NoError(t, validatePairing(paired))

	orphanUp := []info{{sequence: 1, name: "init", direction: "up"}}
	assert.Error(t, validatePairing(orphanUp))

	orphanDown := []info{{sequence: 1, name: "init", direction: "down"}}
	assert.Error(t, validatePairing(orphanDown))
}

func TestValidateSequence(t *testing.T) {
	contiguous := []info{
		{sequence: 1, name: "init", direction: "up"},
		{sequence: 2, name: "indexes", direction: "up"},
	}
	assert.NoError(t, validateSequence(contiguous))

	gap := []info{
		{sequence: 1, name: "init", direction: "up"},
		{sequence: 3, name: "indexes", direction: "up"},
	}
	assert.Error(t, validateSequence(gap))

	startsAtTwo := []info{{sequence: 2, name: "init", direction: "up"}}
	assert.Error(t, validateSequence(startsAtTwo))
}
