package tap

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// gatewayClient issues the /register and /unregister signaling calls TAP
// makes against FGW and SGW over plain HTTP GET, per spec.md §4.2's
// "Port allocation (framed)" and "Context registration (streaming)" rules.
type gatewayClient struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

func newGatewayClient(logger *logrus.Logger) *gatewayClient {
	return &gatewayClient{httpClient: &http.Client{Timeout: 5 * time.Second}, logger: logger}
}

// registerFramed registers a call + port with FGW. A non-200 response is
// fatal to the tap per spec.md §7: the port was reserved locally, but the
// gateway never accepted it.
func (g *gatewayClient) registerFramed(baseURL string, callID string, port int, meta CallMeta) error {
	q := url.Values{}
	q.Set("uuid", callID)
	q.Set("port", strconv.Itoa(port))
	q.Set("agent_extension", meta.AgentExtension)
	q.Set("agent_username", meta.AgentUsername)
	q.Set("agent_id", meta.AgentID)
	return g.getOK(baseURL + "/register?" + q.Encode())
}

// unregisterFramed tells FGW to drop a port's session; errors are logged,
// not propagated, since this always runs from cleanup.
func (g *gatewayClient) unregisterFramed(baseURL string, port int) {
	q := url.Values{}
	q.Set("port", strconv.Itoa(port))
	if err := g.getOK(baseURL + "/unregister?" + q.Encode()); err != nil {
		g.logger.WithError(err).WithField("port", port).Warn("tap: fgw unregister failed")
	}
}

// registerStreaming registers a call+direction with SGW. Per spec.md §7,
// this failure is logged and non-fatal.
func (g *gatewayClient) registerStreaming(baseURL, callID, direction string, meta CallMeta) {
	q := url.Values{}
	q.Set("uuid", callID)
	q.Set("exten", meta.Extension)
	q.Set("caller", meta.Caller)
	q.Set("callername", meta.CallerName)
	q.Set("dir", direction)
	if err := g.getOK(baseURL + "/register?" + q.Encode()); err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{"call_uuid": callID, "dir": direction}).
			Warn("tap: sgw register failed")
	}
}

// unregisterStreaming tells SGW a call has ended.
func (g *gatewayClient) unregisterStreaming(baseURL, callID string) {
	q := url.Values{}
	q.Set("uuid", callID)
	if err := g.getOK(baseURL + "/unregister?" + q.Encode()); err != nil {
		g.logger.WithError(err).WithField("call_uuid", callID).Warn("tap: sgw unregister failed")
	}
}

func (g *gatewayClient) getOK(fullURL string) error {
	resp, err := g.httpClient.Get(fullURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errHTTPStatus(resp.StatusCode)
	}
	return nil
}

type errHTTPStatus int

func (e errHTTPStatus) Error() string {
	return "unexpected HTTP status " + strconv.Itoa(int(e))
}
