package tap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildArgsParseArgsRoundTrip(t *testing.T) {
	encoded := buildArgs(roleSnoop, "call-1", "out")
	require.Equal(t, "snoop,call-1,out", encoded)

	var raw []interface{}
	for _, part := range strings.Split(encoded, ",") {
		raw = append(raw, part)
	}
	p, ok := parseArgs(raw)
	require.True(t, ok)
	require.Equal(t, roleSnoop, p.role)
	require.Equal(t, "call-1", p.callID)
	require.Equal(t, "out", p.direction)
}

func TestParseArgsFromRawInterfaceSlice(t *testing.T) {
	raw := []interface{}{"snoop", "call-1", "out"}
	p, ok := parseArgs(raw)
	require.True(t, ok)
	require.Equal(t, "snoop", p.role)
	require.Equal(t, "call-1", p.callID)
	require.Equal(t, "out", p.direction)
}

func TestParseArgsEmptyIsNotOK(t *testing.T) {
	_, ok := parseArgs(nil)
	require.False(t, ok)
}

func TestParseArgsShortSliceLeavesTrailingFieldsZero(t *testing.T) {
	p, ok := parseArgs([]interface{}{"em", "call-2"})
	require.True(t, ok)
	require.Equal(t, roleExternalMedia, p.role)
	require.Equal(t, "call-2", p.callID)
	require.Equal(t, "", p.direction)
}

func TestParseArgsNonStringElementsAreIgnored(t *testing.T) {
	p, ok := parseArgs([]interface{}{"snoop", 42, true})
	require.True(t, ok)
	require.Equal(t, "snoop", p.role)
	require.Equal(t, "", p.callID)
	require.Equal(t, "", p.direction)
}
