package notify

import (
	"fmt"
	"time"

	"github.com/quotabar/quotabar/pkg/provider"
)

// Message is the suggested notification content for a transition. The
// core only suggests; an external notifier renders the alert.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// MessageFor builds the user-facing text for a transition. resetsAt,
// when known, lets the depleted message say when usage comes back.
func MessageFor(id provider.ID, t Transition, resetsAt time.Time) (Message, bool) {
	switch t {
	case TransitionDepleted:
		body := "Session usage limit reached."
		if !resetsAt.IsZero() {
			body = fmt.Sprintf("Session usage limit reached. Resets at %s.", resetsAt.Local().Format("15:04"))
		}
		return Message{
			Title: fmt.Sprintf("%s quota depleted", id),
			Body:  body,
		}, true
	case TransitionRestored:
		return Message{
			Title: fmt.Sprintf("%s quota restored", id),
			Body:  "Session usage is available again.",
		}, true
	}
	return Message{}, false
}
