package syncer

import "fmt"

// Status is the terminal state of a sync pass.
type Status string

const (
	StatusDisabled  Status = "disabled"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Disabled is the count reported for a source with user sync turned off.
const Disabled = -1

// Result tallies one sync pass.
type Result struct {
	Status       Status
	Synced       int
	Created      int
	Updated      int
	Skipped      int
	Failed       int
	HookFailures int
	Pages        int
}

// Count returns the number of synced records, or Disabled.
func (r Result) Count() int {
	if r.Status == StatusDisabled {
		return Disabled
	}
	return r.Synced
}

func (r Result) String() string {
	if r.Status == StatusDisabled {
		return "user sync disabled"
	}
	return fmt.Sprintf("%s: synced=%d created=%d updated=%d skipped=%d failed=%d hook_failures=%d pages=%d",
		r.Status, r.Synced, r.Created, r.Updated, r.Skipped, r.Failed, r.HookFailures, r.Pages)
}

// StopSyncError aborts a pass because a property mapping is broken.
type StopSyncError struct {
	Mapping string
	Err     error
}

func (e *StopSyncError) Error() string {
	return fmt.Sprintf("sync stopped by property mapping %q: %v", e.Mapping, e.Err)
}

func (e *StopSyncError) Unwrap() error {
	return e.Err
}
