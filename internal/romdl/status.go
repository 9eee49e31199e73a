package romdl

// Status is the lifecycle state of a DownloadItem.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusExtracting  Status = "extracting"
	StatusMoving      Status = "moving"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further automatic progress happens from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether s belongs to the active view:
// queued or running through one of the work phases.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusExtracting, StatusMoving:
		return true
	}
	return false
}

// IsPostProcessing reports whether the transfer has finished and the item
// is being extracted or relocated.
func (s Status) IsPostProcessing() bool {
	return s == StatusExtracting || s == StatusMoving
}

// holdsDedupKey reports whether an item in state s blocks a second request
// for the same descriptor and destination.
func (s Status) holdsDedupKey() bool {
	return s == StatusPending || s == StatusDownloading || s == StatusPaused
}

// transitions is the complete state table. Removal is not a transition:
// the item leaves the collection instead.
var transitions = map[Status][]Status{
	StatusPending:     {StatusDownloading},
	StatusDownloading: {StatusExtracting, StatusMoving, StatusFailed, StatusPaused, StatusCancelled},
	StatusPaused:      {StatusDownloading, StatusCancelled},
	StatusExtracting:  {StatusMoving, StatusFailed},
	StatusMoving:      {StatusCompleted, StatusFailed},
	StatusFailed:      {StatusPending},
	StatusCancelled:   {StatusPending},
}

// CanTransition reports whether the state table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
