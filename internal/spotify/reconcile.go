// Package spotify talks to the external music service: it reconciles the
// shared playlist with the remotely reported playback position and drives
// playback on the managed Spotify Connect device.
package spotify

import (
	"errors"
	"fmt"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

// ErrPlaybackInconsistent means the remotely playing item could not be
// located in the local track list after a mutation. Resuming at position 0
// would silently restart the queue, so the caller gets the error instead.
var ErrPlaybackInconsistent = errors.New("currently playing track not found in playlist")

const (
	// resumeLeadMS nudges the resume position forward to cover the latency
	// between reading progress and issuing the resume command.
	resumeLeadMS = 30

	windowBefore = 6
	windowAfter  = 11
)

// Reconcile maps a remote "now playing" observation onto the local ordered
// track list. obs is nil when the service reported no playback at all.
//
// Playback on a device other than the managed one is surfaced as
// PlayStateElsewhere, distinct from stopped. A managed-device observation
// whose track is no longer in the list yields CurrentIndex == NoIndex while
// State stays PlayStateManaged: a valid transient, not an error.
func Reconcile(items []domain.Track, obs *domain.Playback, managedDevice string) domain.QueueSnapshot {
	snap := domain.QueueSnapshot{
		Items:        items,
		State:        domain.PlayStateUnknown,
		CurrentIndex: domain.NoIndex,
	}
	if obs == nil {
		return snap
	}
	if !obs.Playing {
		snap.State = domain.PlayStateStopped
		return snap
	}
	if obs.DeviceName != managedDevice {
		snap.State = domain.PlayStateElsewhere
		return snap
	}

	snap.State = domain.PlayStateManaged
	snap.ProgressMS = obs.ProgressMS
	for i, t := range items {
		if t.ID == obs.TrackID {
			snap.CurrentIndex = i // first match by position wins
			break
		}
	}
	return snap
}

// ResumeTarget computes where to restart the external device after the track
// list mutated: the same logical track at its new position, at its elapsed
// progress plus a small forward correction. The track being gone from the
// list indicates a consistency bug and is surfaced, never guessed around.
func ResumeTarget(items []domain.Track, id domain.TrackID, progressMS int) (index, positionMS int, err error) {
	for i, t := range items {
		if t.ID == id {
			return i, progressMS + resumeLeadMS, nil
		}
	}
	return domain.NoIndex, 0, fmt.Errorf("%w: %s", ErrPlaybackInconsistent, id)
}

// Window materializes the bounded neighborhood around the current track that
// queue listings show; everything past it is reported only as a count.
func Window(snap domain.QueueSnapshot) domain.QueueWindow {
	lo := snap.CurrentIndex - windowBefore
	if lo < 0 {
		lo = 0
	}
	hi := snap.CurrentIndex + windowAfter
	if hi > len(snap.Items) {
		hi = len(snap.Items)
	}
	if hi < lo {
		hi = lo
	}
	return domain.QueueWindow{
		Tracks: snap.Items[lo:hi],
		Start:  lo,
		More:   len(snap.Items) - hi,
	}
}
