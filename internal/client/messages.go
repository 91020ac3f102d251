package client

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"nationcraft.ai/internal/protocol"
)

// english holds the default rendering of every outcome and notice key.
var english = map[string]string{
	"message.nation_created":         "Nation %s has been founded.",
	"message.nation_joined":          "You joined %s.",
	"message.nation_left":            "You are no longer a member of %s.",
	"message.nation_disbanded":       "%s has been disbanded.",
	"message.invite_sent":            "Invited %s to %s.",
	"message.invite_received":        "You have been invited to join %s (id %s). Use 'accept <name>' to join.",
	"message.member_kicked":          "Removed %s from %s.",
	"message.member_promoted":        "%s is now %s.",
	"message.member_demoted":         "%s is now %s.",
	"message.leadership_transferred": "Leadership passed to %s.",
	"message.leadership_inherited":   "You are now the leader of %s.",
	"message.rank_changed":           "Your rank in %s is now %s.",
	"message.diplomacy_set":          "Your nation is now %[2]s toward %[1]s.",

	"error.already_in_nation": "You are already in a nation.",
	"error.not_in_nation":     "You are not in a nation.",
	"error.name_too_short":    "Nation name must be at least 3 characters.",
	"error.name_too_long":     "Nation name must be at most 24 characters.",
	"error.name_taken":        "That nation name is already taken.",
	"error.no_permission":     "You do not have permission to do that.",
	"error.nation_not_found":  "Nation not found.",
	"error.no_invite":         "You have no invite from that nation.",
	"error.target_not_found":  "That player is not in your nation.",
	"error.rate_limit":        "Slow down.",
	"error.internal":          "The server failed to handle that request.",
	"error.unknown":           "Request failed.",
}

// Messages renders translation keys. Unknown keys print as the key followed by its arguments.
type Messages struct {
	p     *message.Printer
	known map[string]bool
}

func NewMessages() *Messages {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	known := make(map[string]bool, len(english))
	for k, v := range english {
		_ = b.SetString(language.English, k, v)
		known[k] = true
	}
	return &Messages{
		p:     message.NewPrinter(language.English, message.Catalog(b)),
		known: known,
	}
}

func (m *Messages) Render(key string, args []string) string {
	if !m.known[key] {
		if len(args) == 0 {
			return key
		}
		return key + " " + strings.Join(args, " ")
	}
	a := make([]any, len(args))
	for i, s := range args {
		if w, ok := enumWords[s]; ok {
			a[i] = w
		} else {
			a[i] = s
		}
	}
	return m.p.Sprintf(key, a...)
}

// Outcome renders the result line for a request.
func (m *Messages) Outcome(o protocol.Outcome) string {
	key := o.Key
	if key == "" {
		if o.OK() {
			return "ok"
		}
		key = protocol.ErrorKey(o.Code)
	}
	return m.Render(key, o.Args)
}

func (m *Messages) Notice(n protocol.Notice) string { return m.Render(n.Key, n.Args) }

// enumWords are the wire names of ranks and diplomacy states as they read in a sentence.
var enumWords = map[string]string{
	"LEADER":  "leader",
	"OFFICER": "officer",
	"RECRUIT": "recruit",
	"ALLIED":  "allied",
	"NEUTRAL": "neutral",
	"AT_WAR":  "at war",
}
