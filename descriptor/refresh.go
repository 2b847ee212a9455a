package descriptor

import "github.com/discoveryhq/toolmesh/events"

// RefreshChannel is the event channel type a Refreshable source publishes
// its updated descriptor lists on.
type RefreshChannel = events.Channel[RefreshEvent]

// NewRefreshChannel creates a RefreshChannel for a source identified by
// sourceID (used only in log output on handler failure).
func NewRefreshChannel(sourceID string) *RefreshChannel {
	return events.New[RefreshEvent](sourceID)
}
