package domain

// PlayState classifies a remote "now playing" observation relative to the
// managed playback device.
type PlayState int

const (
	// PlayStateUnknown means no playback report was available at all.
	PlayStateUnknown PlayState = iota
	// PlayStateStopped means the linked account is not playing anything.
	PlayStateStopped
	// PlayStateElsewhere means something is playing, but on a device other
	// than the managed one. Distinct from stopped on purpose.
	PlayStateElsewhere
	// PlayStateManaged means the managed device is playing.
	PlayStateManaged
)

// Playback is a single observation of the remote player, as reported by the
// external music service.
type Playback struct {
	Playing    bool
	DeviceName string
	TrackID    TrackID
	ProgressMS int
}

// NoIndex marks a QueueSnapshot with no known current position.
const NoIndex = -1

// QueueSnapshot is a freshly computed view of the shared track list plus the
// current playback position. It is never cached or persisted.
type QueueSnapshot struct {
	Items []Track
	State PlayState
	// CurrentIndex is the position of the currently playing item in Items,
	// or NoIndex when nothing relevant is playing or the item is gone.
	CurrentIndex int
	// ProgressMS is elapsed time into the current item. Only meaningful when
	// State is PlayStateManaged.
	ProgressMS int
}

// QueueWindow is a bounded neighborhood of a snapshot around CurrentIndex.
type QueueWindow struct {
	Tracks []Track
	// Start is the index in the full queue of Tracks[0].
	Start int
	// More counts the tracks after the window's end.
	More int
}
