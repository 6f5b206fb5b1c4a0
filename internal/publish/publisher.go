// Package publish pushes completed meeting records to external surfaces:
// a document wiki and a chat channel. Publishing is independent of the
// processing pipeline: it runs only on completed records, is idempotent
// per meeting (re-publish overwrites the stored external reference), and
// its failures never change a meeting's status.
package publish

import (
	"context"

	"github.com/openminutes/openminutes/internal/meeting"
)

// Result is the external reference a connector hands back after publishing.
type Result struct {
	ID  string
	URL string
}

// WikiPublisher writes the full meeting record as a wiki document.
type WikiPublisher interface {
	Publish(ctx context.Context, m *meeting.Meeting, mappings []meeting.SpeakerMapping) (Result, error)
}

// ChatPublisher announces the meeting summary in a chat channel.
type ChatPublisher interface {
	Publish(ctx context.Context, m *meeting.Meeting, mappings []meeting.SpeakerMapping) (Result, error)
}

// WikiPublished reports whether a wiki reference is stored for m.
func WikiPublished(m *meeting.Meeting) bool { return m.WikiPageID != "" }

// ChatPublished reports whether a chat reference is stored for m.
func ChatPublished(m *meeting.Meeting) bool { return m.ChatMessageID != "" }
