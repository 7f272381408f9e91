package sqldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	plain := Dialect{Name: "sqlite"}
	numbered := Dialect{Name: "postgres", Numbered: true}

	q := "UPDATE approvals SET status = ? WHERE id = ? AND status = ?"
	assert.Equal(t, q, plain.Rebind(q))
	assert.Equal(t, "UPDATE approvals SET status = $1 WHERE id = $2 AND status = $3", numbered.Rebind(q))
}

func TestEncodeMetadata(t *testing.T) {
	empty, err := encodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)

	s, err := encodeMetadata(map[string]any{"execution_attempts": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"execution_attempts": 2}`, s)
}
