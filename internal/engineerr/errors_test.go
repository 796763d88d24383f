package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStringWithDetail(t *testing.T) {
	err := New(KindInsufficient, "sent 1, required 2")
	require.Equal(t, "Insufficient: sent 1, required 2", err.Error())
}

func TestErrorStringWithoutDetail(t *testing.T) {
	err := New(KindDenied, "")
	require.Equal(t, "Denied", err.Error())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindNetwork, "probe failed", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, "Network: probe failed", err.Error())
}

func TestKindOf(t *testing.T) {
	err := New(KindCooldown, "wait")
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCooldown, kind)

	_, ok = KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestTimeoutIsNetworkKind(t *testing.T) {
	err := Timeout()
	require.Equal(t, KindNetwork, err.Kind)
	require.Equal(t, "timeout", err.Detail)
}
