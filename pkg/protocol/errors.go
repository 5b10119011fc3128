package protocol

import "fmt"

// PortInUseError reports that a customer's fixed staging port is already
// answering connections. Fixed ports map 1:1 to public staging hostnames,
// so the allocator never substitutes a different port.
type PortInUseError struct {
	CustomerID string
	Port       int
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("fixed port %d for customer %s is already in use", e.Port, e.CustomerID)
}

// NoFreePortsError reports exhaustion of the configured allocation range.
type NoFreePortsError struct {
	RangeStart int
	RangeEnd   int
}

func (e *NoFreePortsError) Error() string {
	return fmt.Sprintf("no free ports in range %d-%d", e.RangeStart, e.RangeEnd)
}

// StartInProgressError reports that another start call for the same
// customer is already in flight.
type StartInProgressError struct {
	CustomerID string
}

func (e *StartInProgressError) Error() string {
	return fmt.Sprintf("start already in progress for customer %s", e.CustomerID)
}

// SiteNotFoundError reports a missing customer site directory.
type SiteNotFoundError struct {
	CustomerID string
	Dir        string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site directory for customer %s not found: %s", e.CustomerID, e.Dir)
}

// DependencyInstallError reports a failed synchronous dependency install
// during a start attempt. Output holds the captured tail of the installer.
type DependencyInstallError struct {
	CustomerID string
	Command    string
	Output     string
}

func (e *DependencyInstallError) Error() string {
	return fmt.Sprintf("dependency install failed for customer %s (%s): %s", e.CustomerID, e.Command, e.Output)
}

// ServerNotReadyError reports that a spawned preview process never started
// answering on its port within the readiness timeout. StderrTail holds the
// last captured output for diagnostics.
type ServerNotReadyError struct {
	CustomerID string
	Port       int
	StderrTail string
}

func (e *ServerNotReadyError) Error() string {
	return fmt.Sprintf("staging server for customer %s not ready on port %d: %s", e.CustomerID, e.Port, e.StderrTail)
}

// InvalidStatusTransitionError reports a review-request status change that
// is not an allowed edge of the quote lifecycle.
type InvalidStatusTransitionError struct {
	RequestID string
	From      ReviewStatus
	To        ReviewStatus
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("review request %s: invalid status transition %s -> %s", e.RequestID, e.From, e.To)
}

// RollbackBlockedError reports a rollback refused because the working tree
// has uncommitted changes that would be silently discarded.
type RollbackBlockedError struct {
	CustomerID string
}

func (e *RollbackBlockedError) Error() string {
	return fmt.Sprintf("rollback blocked for customer %s: working tree has uncommitted changes", e.CustomerID)
}

// CommitNotFoundError reports a rollback target that does not exist in the
// customer's history.
type CommitNotFoundError struct {
	CustomerID string
	Hash       string
}

func (e *CommitNotFoundError) Error() string {
	return fmt.Sprintf("commit %s not found in history for customer %s", e.Hash, e.CustomerID)
}
