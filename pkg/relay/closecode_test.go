package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCloseCodeMapsReservedCodes(t *testing.T) {
	for _, code := range []int{1005, 1006, 1015, 5000, 5123, 9999} {
		require.Equal(t, 1011, NormalizeCloseCode(code), "code %d", code)
	}
}

func TestNormalizeCloseCodePassesThroughOrdinaryCodes(t *testing.T) {
	for code := 1000; code < 5000; code++ {
		if code == 1005 || code == 1006 || code == 1015 {
			continue
		}
		require.Equal(t, code, NormalizeCloseCode(code))
	}
}
