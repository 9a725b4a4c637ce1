package transcript

import (
	"strings"

	"github.com/antoniostano/acolyte/internal/protocol"
)

// Classify maps an inbound event to the transcript entry it produces, if any.
// Rules are checked in order and the first match wins.
func Classify(ev protocol.Event) (Entry, bool) {
	switch p := ev.Payload.(type) {
	case protocol.ItemCreate:
		if ev.Kind != protocol.KindItemCreate || p.Item.Role != string(RoleAssistant) {
			return Entry{}, false
		}
		var parts []string
		for _, c := range p.Item.Content {
			if c.Type == "text" {
				parts = append(parts, c.Text)
			}
		}
		if len(parts) == 0 {
			return Entry{}, false
		}
		return Entry{
			ID:      ev.ID,
			Role:    RoleAssistant,
			Content: strings.Join(parts, " "),
			Subtype: SubtypeMessage,
		}, true
	case protocol.AudioTranscriptDone:
		if ev.Kind != protocol.KindAudioTranscriptDone || p.Transcript == "" {
			return Entry{}, false
		}
		return Entry{
			ID:      ev.ID,
			Role:    RoleAssistant,
			Content: p.Transcript,
			Subtype: SubtypeTranscript,
		}, true
	default:
		return Entry{}, false
	}
}

// Reconciler folds decoded inbound events into a transcript.
type Reconciler struct {
	transcript *Transcript
}

func NewReconciler(t *Transcript) *Reconciler {
	return &Reconciler{transcript: t}
}

// Reconcile appends the entry derived from ev. It reports false when ev
// produces no entry or its identity was already reconciled.
func (r *Reconciler) Reconcile(ev protocol.Event) (Entry, bool) {
	entry, ok := Classify(ev)
	if !ok {
		return Entry{}, false
	}
	return r.transcript.Append(entry)
}

// AppendUser records locally composed user text with a fresh identity.
func (r *Reconciler) AppendUser(text string) Entry {
	entry, _ := r.transcript.Append(NewEntry(RoleUser, text, SubtypeMessage))
	return entry
}

func (r *Reconciler) Transcript() *Transcript {
	return r.transcript
}
