package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsControlMessageMatchesType(t *testing.T) {
	types := map[string]bool{"KeepAlive": true}
	require.True(t, IsControlMessage([]byte(`{"type":"KeepAlive"}`), true, types))
	require.False(t, IsControlMessage([]byte(`{"type":"Audio"}`), true, types))
}

func TestIsControlMessageIgnoresBinaryAndNonJSON(t *testing.T) {
	types := map[string]bool{"KeepAlive": true}
	require.False(t, IsControlMessage([]byte("binary"), false, types))
	require.False(t, IsControlMessage([]byte("not json"), true, types))
}
