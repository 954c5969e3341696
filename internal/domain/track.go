// Package domain contains entity types without transport or lifecycle logic.
package domain

import "strings"

type (
	ChannelID string
	GuildID   string
	UserID    string
	TrackID   string
)

type Track struct {
	ID         TrackID
	Title      string
	Artists    []string
	DurationMS int
	URL        string
}

// FullTitle renders "artist,artist - title" the way queue listings show it.
func (t Track) FullTitle() string {
	if len(t.Artists) == 0 {
		return t.Title
	}
	return strings.Join(t.Artists, ",") + " - " + t.Title
}
