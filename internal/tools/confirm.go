package tools

import (
	"regexp"
	"strings"
)

// Confirmation is the three-valued outcome of classifying a user reply to a
// pending confirmation.
type Confirmation int

const (
	ConfirmationUnknown Confirmation = iota
	ConfirmationYes
	ConfirmationNo
)

// Closed vocabularies, anchored to the whole trimmed lowercase input. Both
// supported languages share one classifier.
var (
	affirmativePattern = regexp.MustCompile(`^(yes|yeah|yep|yup|sure|ok|okay|confirm|confirmed|correct|right|go ahead|do it|send it|s[ií]|claro|correcto|confirmo|confirmar|adelante|dale|por supuesto|as[ií] es|est[aá] bien)[.!]*$`)
	negativePattern    = regexp.MustCompile(`^(no|nope|nah|cancel|stop|don'?t|never ?mind|not now|no thanks|cancelar|cancela|det[eé]n|para|mejor no|no gracias|todav[ií]a no)[.!]*$`)
)

// ClassifyUserConfirmation decides whether a user message affirms or rejects
// a pending confirmation. Anything outside the closed vocabulary is unknown
// and the orchestrator lets the model interpret the message instead.
func ClassifyUserConfirmation(text string) Confirmation {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return ConfirmationUnknown
	}
	if affirmativePattern.MatchString(normalized) {
		return ConfirmationYes
	}
	if negativePattern.MatchString(normalized) {
		return ConfirmationNo
	}
	return ConfirmationUnknown
}
