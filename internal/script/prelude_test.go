package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/sqlbridge/internal/client"
)

func TestPrelude(t *testing.T) {
	got, err := Prelude(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Prelude(map[string]client.Config{
		"main": {Kind: client.KindRemote, URL: "libsql://db.example.com", Token: `t"k`},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "globalThis.databases = Object.freeze(JSON.parse(")
	assert.Contains(t, got, `\"url\":\"libsql://db.example.com\"`)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Names(map[string]client.Config{"b": {}, "a": {}}))
}
