// Package publish moves a customer's staged edits to their live site:
// commit-and-push on publish, checkout-and-commit on rollback. History is
// never rewritten; a rollback is a new commit that restores an old tree,
// so the remote never needs a force push and the audit trail stays intact.
package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"upserver/pkg/protocol"
)

// DefaultCommitMessage is used when a publish request carries no message.
const DefaultCommitMessage = "Publish site updates"

// EventLogger records publish/rollback actions in the audit trail.
// Satisfied by *store.Store.
type EventLogger interface {
	AppendEvent(ctx context.Context, eventType, customerID, detail string, now time.Time) error
}

// Result is the outcome of a Publish or Rollback call.
type Result struct {
	CustomerID string `json:"customer_id"`
	Committed  bool   `json:"committed"`
	CommitHash string `json:"commit_hash,omitempty"`
	Message    string `json:"message"`
	// Warning carries non-fatal trouble, currently only "push_failed".
	// The commit landed locally; the push is retried on the next publish.
	Warning string `json:"warning,omitempty"`
}

// Controller performs publish and rollback for customer sites. Operations
// on the same controller are serialized; concurrent publish+rollback on
// one working tree would corrupt the index.
type Controller struct {
	mu       sync.Mutex
	git      GitRunner
	siteRoot string
	events   EventLogger
	nowFunc  func() time.Time
}

// NewController creates a Controller over the given site root. events may
// be nil when no audit trail is wanted (tests).
func NewController(git GitRunner, siteRoot string, events EventLogger) *Controller {
	return &Controller{
		git:      git,
		siteRoot: siteRoot,
		events:   events,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (c *Controller) SetNowFunc(fn func() time.Time) { c.nowFunc = fn }

func (c *Controller) siteDir(customerID string) string {
	return filepath.Join(c.siteRoot, customerID)
}

// Publish commits everything in the customer's working tree and pushes.
// A clean tree is a successful no-op. A failed push is reported as a
// warning, not an error: the commit is durable locally.
func (c *Controller) Publish(ctx context.Context, customerID, message string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := c.siteDir(customerID)

	dirty, err := c.isDirty(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !dirty {
		return &Result{CustomerID: customerID, Committed: false, Message: "No changes to publish"}, nil
	}

	if _, stderr, err := c.git.Run(ctx, dir, "add", "-A"); err != nil {
		return nil, gitError("add", customerID, stderr, err)
	}

	if message == "" {
		message = DefaultCommitMessage
	}
	if _, stderr, err := c.git.Run(ctx, dir, "commit", "-m", message); err != nil {
		return nil, gitError("commit", customerID, stderr, err)
	}

	hash, err := c.headHash(ctx, dir)
	if err != nil {
		return nil, err
	}

	res := &Result{CustomerID: customerID, Committed: true, CommitHash: hash, Message: message}
	if _, stderr, err := c.git.Run(ctx, dir, "push"); err != nil {
		res.Warning = "push_failed: " + oneLine(stderr, err)
	}

	c.logEvent(ctx, "published", customerID, fmt.Sprintf("commit=%s warning=%q", shortHash(hash), res.Warning))
	return res, nil
}

// History returns the customer's recent commits, newest first. limit <= 0
// defaults to 20.
func (c *Controller) History(ctx context.Context, customerID string, limit int) ([]protocol.Commit, error) {
	if limit <= 0 {
		limit = 20
	}

	dir := c.siteDir(customerID)
	out, stderr, err := c.git.Run(ctx, dir, "log", "-n", strconv.Itoa(limit), "--pretty=format:%H%x09%ct%x09%s")
	if err != nil {
		// A freshly-initialized repo has no commits yet; that is empty
		// history, not an error.
		if strings.Contains(stderr, "does not have any commits") {
			return nil, nil
		}
		return nil, gitError("log", customerID, stderr, err)
	}

	var commits []protocol.Commit
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("parse git log for %s: malformed line %q", customerID, line)
		}
		epoch, parseErr := strconv.ParseInt(parts[1], 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("parse git log for %s: bad timestamp in %q", customerID, line)
		}
		commits = append(commits, protocol.Commit{
			Hash:    parts[0],
			Time:    time.Unix(epoch, 0).UTC(),
			Subject: parts[2],
		})
	}
	return commits, nil
}

// Rollback restores the tree of an earlier commit as a NEW commit on top
// of the current history. Refused while the tree is dirty: unpublished
// edits must be published or discarded first, not silently destroyed.
func (c *Controller) Rollback(ctx context.Context, customerID, hash string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := c.siteDir(customerID)

	dirty, err := c.isDirty(ctx, dir)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, &protocol.RollbackBlockedError{CustomerID: customerID}
	}

	if _, _, err := c.git.Run(ctx, dir, "cat-file", "-e", hash+"^{commit}"); err != nil {
		return nil, &protocol.CommitNotFoundError{CustomerID: customerID, Hash: hash}
	}

	target, stderr, err := c.git.Run(ctx, dir, "rev-parse", hash)
	if err != nil {
		return nil, gitError("rev-parse", customerID, stderr, err)
	}
	target = strings.TrimSpace(target)

	head, err := c.headHash(ctx, dir)
	if err != nil {
		return nil, err
	}
	if head == target {
		return &Result{CustomerID: customerID, Committed: false, CommitHash: head,
			Message: "Already at requested commit"}, nil
	}

	if _, stderr, err := c.git.Run(ctx, dir, "checkout", target, "--", "."); err != nil {
		return nil, gitError("checkout", customerID, stderr, err)
	}

	// Restoring an ancestor whose tree matches HEAD leaves nothing to
	// commit; stage first so the emptiness check sees the same state git
	// commit will.
	if _, stderr, err := c.git.Run(ctx, dir, "add", "-A"); err != nil {
		return nil, gitError("add", customerID, stderr, err)
	}
	staged, err := c.isDirty(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !staged {
		return &Result{CustomerID: customerID, Committed: false, CommitHash: head,
			Message: "Tree already matches requested commit"}, nil
	}

	message := "Rollback to " + shortHash(target)
	if _, stderr, err := c.git.Run(ctx, dir, "commit", "-m", message); err != nil {
		return nil, gitError("commit", customerID, stderr, err)
	}

	newHead, err := c.headHash(ctx, dir)
	if err != nil {
		return nil, err
	}

	res := &Result{CustomerID: customerID, Committed: true, CommitHash: newHead, Message: message}
	if _, stderr, err := c.git.Run(ctx, dir, "push"); err != nil {
		res.Warning = "push_failed: " + oneLine(stderr, err)
	}

	c.logEvent(ctx, "rolled_back", customerID,
		fmt.Sprintf("target=%s commit=%s warning=%q", shortHash(target), shortHash(newHead), res.Warning))
	return res, nil
}

// isDirty reports whether the working tree or index differs from HEAD.
func (c *Controller) isDirty(ctx context.Context, dir string) (bool, error) {
	out, stderr, err := c.git.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status in %s: %s", dir, oneLine(stderr, err))
	}
	return strings.TrimSpace(out) != "", nil
}

func (c *Controller) headHash(ctx context.Context, dir string) (string, error) {
	out, stderr, err := c.git.Run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD in %s: %s", dir, oneLine(stderr, err))
	}
	return strings.TrimSpace(out), nil
}

func (c *Controller) logEvent(ctx context.Context, eventType, customerID, detail string) {
	if c.events == nil {
		return
	}
	// Audit append failure must not fail the publish that already landed.
	_ = c.events.AppendEvent(ctx, eventType, customerID, detail, c.nowFunc().UTC())
}

func gitError(op, customerID, stderr string, err error) error {
	return fmt.Errorf("git %s for %s: %s", op, customerID, oneLine(stderr, err))
}

// oneLine prefers trimmed stderr over the raw exec error.
func oneLine(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return strings.ReplaceAll(s, "\n", " | ")
	}
	return err.Error()
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
