package discord

import (
	"fmt"
	"strings"

	"github.com/spoofy-bot/spoofy/internal/domain"
	spotifyx "github.com/spoofy-bot/spoofy/internal/spotify"
)

// renderQueue turns a snapshot into the chat listing: a window around the
// current track, a marker on the playing line, and a count of the rest.
func renderQueue(snap domain.QueueSnapshot) string {
	if len(snap.Items) == 0 {
		return "The queue is empty. Add something with the add command."
	}

	win := spotifyx.Window(snap)
	var b strings.Builder

	switch snap.State {
	case domain.PlayStateElsewhere:
		b.WriteString("⚠️ Playback is running on another device.\n")
	case domain.PlayStateStopped, domain.PlayStateUnknown:
		b.WriteString("Nothing is playing right now.\n")
	}

	for i, t := range win.Tracks {
		idx := win.Start + i
		marker := "  "
		if snap.State == domain.PlayStateManaged && idx == snap.CurrentIndex {
			marker = "▶ "
		}
		fmt.Fprintf(&b, "%s%d. %s [%s]\n", marker, idx+1, t.FullTitle(), formatDuration(t.DurationMS))
	}
	if win.More > 0 {
		fmt.Fprintf(&b, "…and %d more\n", win.More)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderNowPlaying is the one-line current-track summary.
func renderNowPlaying(snap domain.QueueSnapshot) string {
	switch snap.State {
	case domain.PlayStateElsewhere:
		return "Playback is running on another device, not through the bot."
	case domain.PlayStateManaged:
	default:
		return "Nothing is playing right now."
	}
	if snap.CurrentIndex == domain.NoIndex {
		return "Playing a track that is no longer in the queue."
	}
	t := snap.Items[snap.CurrentIndex]
	return fmt.Sprintf("▶ %s [%s/%s]", t.FullTitle(),
		formatDuration(snap.ProgressMS), formatDuration(t.DurationMS))
}

func formatDuration(ms int) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
