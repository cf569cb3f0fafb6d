package tap

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testTapLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestRegisterFramedSendsExpectedQuery(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := newGatewayClient(testTapLogger())
	err := g.registerFramed(server.URL, "call-1", 31000, CallMeta{AgentExtension: "200"})
	require.NoError(t, err)
	require.Equal(t, "/register", gotPath)
	require.Contains(t, gotQuery, "uuid=call-1")
	require.Contains(t, gotQuery, "port=31000")
	require.Contains(t, gotQuery, "agent_extension=200")
}

func TestRegisterFramedReturnsErrorOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g := newGatewayClient(testTapLogger())
	err := g.registerFramed(server.URL, "call-1", 31000, CallMeta{})
	require.Error(t, err)
}

func TestUnregisterFramedNeverReturnsAnErrorToTheCaller(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	g := newGatewayClient(testTapLogger())
	g.unregisterFramed(server.URL, 31000) // must not panic; logs only
}

func TestRegisterStreamingSendsDirectionAndCallerMeta(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := newGatewayClient(testTapLogger())
	g.registerStreaming(server.URL, "call-2", "out", CallMeta{Extension: "100", Caller: "5551234"})
	require.Contains(t, gotQuery, "uuid=call-2")
	require.Contains(t, gotQuery, "dir=out")
	require.Contains(t, gotQuery, "exten=100")
	require.Contains(t, gotQuery, "caller=5551234")
}

func TestUnregisterStreamingSendsUUID(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := newGatewayClient(testTapLogger())
	g.unregisterStreaming(server.URL, "call-2")
	require.Contains(t, gotQuery, "uuid=call-2")
}
