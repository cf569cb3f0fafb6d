package fgw

import (
	"net"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicatePortWith409(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() { conn.Read(make([]byte, 4096)) }()
		}
	}()

	port := freeUDPPort(t)
	m := NewManager(testLogger(), port, port, "127.0.0.1", listener.Addr().String(), 0, 0)

	req1 := httptest.NewRequest("GET", "/register?uuid=A1&port="+strconv.Itoa(port), nil)
	rec1 := httptest.NewRecorder()
	m.Register(rec1, req1)
	require.Equal(t, 200, rec1.Code)

	req2 := httptest.NewRequest("GET", "/register?uuid=A2&port="+strconv.Itoa(port), nil)
	rec2 := httptest.NewRecorder()
	m.Register(rec2, req2)
	require.Equal(t, 409, rec2.Code)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	m := NewManager(testLogger(), 30000, 30999, "127.0.0.1", "127.0.0.1:1", 0, 0)

	req := httptest.NewRequest("GET", "/unregister?port=30000", nil)
	rec := httptest.NewRecorder()
	m.Unregister(rec, req)
	require.Equal(t, 200, rec.Code)

	rec2 := httptest.NewRecorder()
	m.Unregister(rec2, req)
	require.Equal(t, 200, rec2.Code)
}
