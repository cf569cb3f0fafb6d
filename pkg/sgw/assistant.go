package sgw

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"siprec-tap-gateway/pkg/metrics"
)

// AssistantConfig carries the generative-assistant dispatcher's tunables,
// lifted one-to-one from config.SgwConfig's "Assistant*" fields.
type AssistantConfig struct {
	URL            string
	AuthHeader     string
	SpeakerName    string
	Interval       time.Duration
	TailCharCap    int
	MinCharsToSend int
}

// conversationEntry is one line of a Conversation's transcript log.
type conversationEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

// conversation is the per-CallId accumulator described in the data model:
// an ordered transcript log plus enough bookkeeping to decide when it is
// worth sampling.
type conversation struct {
	callID        string
	entries       []conversationEntry
	totalChars    int
	lastSentItems int
}

type assistantRequest struct {
	CallID       string              `json:"call_id"`
	Conversation []conversationEntry `json:"conversation"`
}

type assistantReply struct {
	Assistant struct {
		Visibility string `json:"visibility"`
		Text       string `json:"text"`
	} `json:"assistant"`
}

// assistantDispatcher owns the per-call conversation logs and the
// background timer that samples and POSTs them to the configured
// generative-assistant endpoint, per spec.md §4.4's "Generative assistant"
// paragraph.
type assistantDispatcher struct {
	cfg           AssistantConfig
	logger        *logrus.Logger
	hub           *widgetHub
	registrations *registrationTable
	client        *http.Client

	mu            sync.Mutex
	conversations map[string]*conversation
}

func newAssistantDispatcher(logger *logrus.Logger, cfg AssistantConfig, hub *widgetHub, registrations *registrationTable) *assistantDispatcher {
	return &assistantDispatcher{
		cfg:           cfg,
		logger:        logger,
		hub:           hub,
		registrations: registrations,
		client:        &http.Client{Timeout: 10 * time.Second},
		conversations: make(map[string]*conversation),
	}
}

// appendTranscript records a final transcript line, creating the
// conversation on first use.
func (a *assistantDispatcher) appendTranscript(callID, role, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.conversations[callID]
	if !ok {
		c = &conversation{callID: callID}
		a.conversations[callID] = c
	}
	c.entries = append(c.entries, conversationEntry{Timestamp: time.Now(), Role: role, Text: text})
	c.totalChars += len(text)
}

// dropCall discards a call's conversation state, per §4.4's "On
// /unregister the call's registration context and any generative-assistant
// state are dropped" and the watchdog's "last session for the CallId"
// clause.
func (a *assistantDispatcher) dropCall(callID string) {
	a.mu.Lock()
	delete(a.conversations, callID)
	a.mu.Unlock()
}

// run drives the periodic sampling timer until ctx is cancelled.
func (a *assistantDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sampleAll()
		}
	}
}

func (a *assistantDispatcher) sampleAll() {
	for _, c := range a.dueConversations() {
		a.sampleOne(c)
	}
}

// dueConversations returns a snapshot of conversations meeting both
// admission conditions from the data model's invariant: character budget
// met, and item count grown since the last send.
func (a *assistantDispatcher) dueConversations() []*conversation {
	a.mu.Lock()
	defer a.mu.Unlock()

	var due []*conversation
	for _, c := range a.conversations {
		if c.totalChars >= a.cfg.MinCharsToSend && len(c.entries) > c.lastSentItems {
			due = append(due, c)
		}
	}
	return due
}

func (a *assistantDispatcher) sampleOne(c *conversation) {
	a.mu.Lock()
	entries := windowEntries(c.entries, a.cfg.TailCharCap)
	sentItems := len(c.entries)
	a.mu.Unlock()

	reply, err := a.post(c.callID, entries)
	if err != nil {
		a.logger.WithError(err).WithField("call_uuid", c.callID).Warn("sgw: assistant request failed")
		metrics.SgwAssistantRequests.WithLabelValues("error").Inc()
		return
	}

	a.mu.Lock()
	if a.conversations[c.callID] == c {
		c.lastSentItems = sentItems
	}
	a.mu.Unlock()
	metrics.SgwAssistantRequests.WithLabelValues("ok").Inc()

	if reply == nil || reply.Assistant.Visibility != "agent" || strings.TrimSpace(reply.Assistant.Text) == "" {
		return
	}

	a.hub.publish(a.roomForCall(c.callID), AssistEvent{
		Type:    "assist",
		Text:    reply.Assistant.Text,
		Speaker: a.cfg.SpeakerName,
	})

	a.mu.Lock()
	c.entries = append(c.entries, conversationEntry{Timestamp: time.Now(), Role: "assistant", Text: reply.Assistant.Text})
	c.totalChars += len(reply.Assistant.Text)
	a.mu.Unlock()
}

func (a *assistantDispatcher) post(callID string, entries []conversationEntry) (*assistantReply, error) {
	body, err := json.Marshal(assistantRequest{CallID: callID, Conversation: entries})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", a.cfg.AuthHeader)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, nil
	}

	var reply assistantReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, nil
	}
	return &reply, nil
}

// windowEntries applies the optional trailing character-count window, per
// §4.4: "optionally applying a trailing character window of the last ~K
// characters."
func windowEntries(entries []conversationEntry, tailCap int) []conversationEntry {
	if tailCap <= 0 {
		return entries
	}

	total := 0
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		total += len(entries[i].Text)
		if total > tailCap {
			break
		}
		start = i
	}
	return entries[start:]
}

// roomForCall resolves the widget room (= extension) for a CallId through
// the same registration table the manager uses for role mapping, falling
// back to the CallId itself if the registration has already expired.
func (a *assistantDispatcher) roomForCall(callID string) string {
	if ctx, ok := a.registrations.get(callID); ok && ctx.Extension != "" {
		return ctx.Extension
	}
	return callID
}
