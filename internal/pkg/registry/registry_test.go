package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackRange(t *testing.T) {
	ports := FallbackRange(3001)
	require.Len(t, ports, FallbackRangeSize)
	assert.Equal(t, 3001, ports[0])
	assert.Equal(t, 3010, ports[len(ports)-1])
}

func TestPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	assert.True(t, PortInUse(port), "bound port should be reported in use")
}
