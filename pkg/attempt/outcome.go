package attempt

// Kind distinguishes the branches of AttemptOutcome (spec.md §9 design
// note "Failure-driven retry loop": "implement the state machine... as
// an explicit loop with an AttemptOutcome tagged variant {Success(ids),
// RetryWithout(candidate), GiveUp}; avoid exceptions or sentinel
// strings").
type Kind int

const (
	// Success carries the fetched dataset's ids.
	Success Kind = iota
	// RetryWithout carries the checkpoint id to exclude from the next
	// candidate selection.
	RetryWithout
	// GiveUp means no further candidate exists.
	GiveUp
)

// AttemptOutcome is the result of running one iteration of the Attempt
// Driver's state machine (spec.md §4.7).
type AttemptOutcome struct {
	Kind Kind

	DatasetID    int64 // valid when Kind == Success
	CheckpointID int64 // valid when Kind == Success or RetryWithout
}
