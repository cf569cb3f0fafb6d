package tap

import "strings"

// Channels this orchestrator creates carry their role, CallId and (for
// streaming) direction as comma-separated Stasis application arguments, so
// the async stasis-start event for a channel this system itself created
// can be told apart from the original call leg's own stasis-start and from
// an external-media channel's self re-entry into the app.
const (
	roleSnoop         = "snoop"
	roleExternalMedia = "em"
)

func buildArgs(role, callID, direction string) string {
	return strings.Join([]string{role, callID, direction}, ",")
}

// parsedArgs is the decoded form of a channel's Stasis application args.
type parsedArgs struct {
	role      string
	callID    string
	direction string
}

func parseArgs(raw []interface{}) (parsedArgs, bool) {
	if len(raw) == 0 {
		return parsedArgs{}, false
	}
	var p parsedArgs
	if s, ok := raw[0].(string); ok {
		p.role = s
	}
	if len(raw) > 1 {
		if s, ok := raw[1].(string); ok {
			p.callID = s
		}
	}
	if len(raw) > 2 {
		if s, ok := raw[2].(string); ok {
			p.direction = s
		}
	}
	return p, p.role != ""
}
