package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"upserver/pkg/protocol"
)

type gitCall struct {
	dir  string
	args []string
}

type gitResult struct {
	stdout string
	stderr string
	err    error
}

// mockGitRunner records calls and replays scripted results in order. An
// exhausted script answers success with empty output.
type mockGitRunner struct {
	calls   []gitCall
	results []gitResult
}

func (m *mockGitRunner) Run(_ context.Context, dir string, args ...string) (string, string, error) {
	m.calls = append(m.calls, gitCall{dir: dir, args: args})
	if len(m.results) == 0 {
		return "", "", nil
	}
	res := m.results[0]
	m.results = m.results[1:]
	return res.stdout, res.stderr, res.err
}

func (m *mockGitRunner) argLog() []string {
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = strings.Join(c.args, " ")
	}
	return out
}

func out(stdout string) gitResult { return gitResult{stdout: stdout} }

func failed(stderr string) gitResult {
	return gitResult{stderr: stderr, err: errors.New("exit status 1")}
}

const (
	headA = "aaaaaaaa11111111aaaaaaaa11111111aaaaaaaa"
	headB = "bbbbbbbb22222222bbbbbbbb22222222bbbbbbbb"
)

func TestPublish_CleanTreeIsNoop(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{out("")}}
	c := NewController(git, "/sites", nil)

	res, err := c.Publish(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Committed {
		t.Fatal("clean tree reported a commit")
	}
	if res.Message != "No changes to publish" {
		t.Fatalf("message = %q", res.Message)
	}
	if len(git.calls) != 1 {
		t.Fatalf("calls = %v, want only the status check", git.argLog())
	}
}

func TestPublish_CommitsAndPushes(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		out(" M index.html"), // status --porcelain
		out(""),              // add -A
		out(""),              // commit
		out(headA + "\n"),    // rev-parse HEAD
		out(""),              // push
	}}
	c := NewController(git, "/sites", nil)

	res, err := c.Publish(context.Background(), "alice", "Tweak the headline")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Committed || res.CommitHash != headA {
		t.Fatalf("result: %+v", res)
	}
	if res.Message != "Tweak the headline" || res.Warning != "" {
		t.Fatalf("result: %+v", res)
	}

	want := []string{
		"status --porcelain",
		"add -A",
		"commit -m Tweak the headline",
		"rev-parse HEAD",
		"push",
	}
	got := git.argLog()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
	if git.calls[0].dir != "/sites/alice" {
		t.Fatalf("dir = %q", git.calls[0].dir)
	}
}

func TestPublish_DefaultMessage(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		out(" M index.html"),
		out(""),
		out(""),
		out(headA),
		out(""),
	}}
	c := NewController(git, "/sites", nil)

	res, err := c.Publish(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Message != DefaultCommitMessage {
		t.Fatalf("message = %q, want default", res.Message)
	}
	if got := strings.Join(git.calls[2].args, " "); got != "commit -m "+DefaultCommitMessage {
		t.Fatalf("commit call = %q", got)
	}
}

func TestPublish_PushFailureIsWarning(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		out(" M index.html"),
		out(""),
		out(""),
		out(headA),
		failed("remote: permission denied\nfatal: unable to push"),
	}}
	c := NewController(git, "/sites", nil)

	res, err := c.Publish(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Committed || res.CommitHash != headA {
		t.Fatalf("commit lost on push failure: %+v", res)
	}
	want := "push_failed: remote: permission denied | fatal: unable to push"
	if res.Warning != want {
		t.Fatalf("warning = %q, want %q", res.Warning, want)
	}
}

func TestPublish_CommitFailure(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		out(" M index.html"),
		out(""),
		failed("fatal: empty ident name"),
	}}
	c := NewController(git, "/sites", nil)

	_, err := c.Publish(context.Background(), "alice", "")
	if err == nil {
		t.Fatal("commit failure swallowed")
	}
	if !strings.Contains(err.Error(), "empty ident name") {
		t.Fatalf("error = %v", err)
	}
}

func TestHistory(t *testing.T) {
	log := headA + "\t1756500000\tPublish site updates\n" +
		headB + "\t1756400000\tInitial import"
	git := &mockGitRunner{results: []gitResult{out(log)}}
	c := NewController(git, "/sites", nil)

	commits, err := c.History(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(commits))
	}
	if commits[0].Hash != headA || commits[0].Subject != "Publish site updates" {
		t.Fatalf("first commit: %+v", commits[0])
	}
	if !commits[0].Time.Equal(time.Unix(1756500000, 0).UTC()) {
		t.Fatalf("time = %v", commits[0].Time)
	}

	// limit <= 0 defaults to 20.
	if got := strings.Join(git.calls[0].args, " "); !strings.Contains(got, "-n 20") {
		t.Fatalf("log call = %q", got)
	}
}

func TestHistory_EmptyRepo(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		failed("fatal: your current branch 'main' does not have any commits yet"),
	}}
	c := NewController(git, "/sites", nil)

	commits, err := c.History(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("history on empty repo: %v", err)
	}
	if commits != nil {
		t.Fatalf("commits = %v, want nil", commits)
	}
}

func TestHistory_MalformedLine(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{out("not-a-log-line")}}
	c := NewController(git, "/sites", nil)

	if _, err := c.History(context.Background(), "alice", 5); err == nil {
		t.Fatal("malformed log line accepted")
	}
}

func TestRollback_RefusesDirtyTree(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{out(" M index.html")}}
	c := NewController(git, "/sites", nil)

	_, err := c.Rollback(context.Background(), "alice", headB)
	var rbe *protocol.RollbackBlockedError
	if !errors.As(err, &rbe) {
		t.Fatalf("error = %v, want RollbackBlockedError", err)
	}
}

func TestRollback_UnknownCommit(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		out(""), // status: clean
		failed("fatal: Not a valid object name"),
	}}
	c := NewController(git, "/sites", nil)

	_, err := c.Rollback(context.Background(), "alice", "deadbeef")
	var cnf *protocol.CommitNotFoundError
	if !errors.As(err, &cnf) {
		t.Fatalf("error = %v, want CommitNotFoundError", err)
	}
	if cnf.Hash != "deadbeef" {
		t.Fatalf("error hash: %+v", cnf)
	}
}

func TestRollback_AlreadyAtTarget(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		out(""),    // status: clean
		out(""),    // cat-file -e
		out(headA), // rev-parse <hash>
		out(headA), // rev-parse HEAD
	}}
	c := NewController(git, "/sites", nil)

	res, err := c.Rollback(context.Background(), "alice", headA)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if res.Committed || res.Message != "Already at requested commit" {
		t.Fatalf("result: %+v", res)
	}
}

func TestRollback_TreeAlreadyMatches(t *testing.T) {
	git := &mockGitRunner{results: []gitResult{
		out(""),    // status: clean
		out(""),    // cat-file -e
		out(headB), // rev-parse <hash>
		out(headA), // rev-parse HEAD
		out(""),    // checkout <target> -- .
		out(""),    // add -A
		out(""),    // status: nothing staged
	}}
	c := NewController(git, "/sites", nil)

	res, err := c.Rollback(context.Background(), "alice", headB)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if res.Committed || res.Message != "Tree already matches requested commit" {
		t.Fatalf("result: %+v", res)
	}
}

func TestRollback_CreatesNewCommit(t *testing.T) {
	newHead := "cccccccc33333333cccccccc33333333cccccccc"
	git := &mockGitRunner{results: []gitResult{
		out(""),           // status: clean
		out(""),           // cat-file -e
		out(headB),        // rev-parse <hash>
		out(headA),        // rev-parse HEAD
		out(""),           // checkout <target> -- .
		out(""),           // add -A
		out("M  x.html"),  // status: staged changes
		out(""),           // commit
		out(newHead),      // rev-parse HEAD
		out(""),           // push
	}}
	c := NewController(git, "/sites", nil)

	res, err := c.Rollback(context.Background(), "alice", headB)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !res.Committed || res.CommitHash != newHead {
		t.Fatalf("result: %+v", res)
	}
	wantMsg := "Rollback to " + headB[:8]
	if res.Message != wantMsg {
		t.Fatalf("message = %q, want %q", res.Message, wantMsg)
	}

	// The restore must be a checkout of the target tree, never a reset.
	found := false
	for _, call := range git.calls {
		joined := strings.Join(call.args, " ")
		if joined == fmt.Sprintf("checkout %s -- .", headB) {
			found = true
		}
		if strings.HasPrefix(joined, "reset") || strings.HasPrefix(joined, "push --force") {
			t.Fatalf("history-rewriting call: %q", joined)
		}
	}
	if !found {
		t.Fatalf("no checkout call in %v", git.argLog())
	}
}

func TestRollback_PushFailureIsWarning(t *testing.T) {
	newHead := "cccccccc33333333cccccccc33333333cccccccc"
	git := &mockGitRunner{results: []gitResult{
		out(""),
		out(""),
		out(headB),
		out(headA),
		out(""),
		out(""),
		out("M  x.html"),
		out(""),
		out(newHead),
		failed("fatal: could not read from remote"),
	}}
	c := NewController(git, "/sites", nil)

	res, err := c.Rollback(context.Background(), "alice", headB)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !res.Committed {
		t.Fatal("commit lost on push failure")
	}
	if !strings.HasPrefix(res.Warning, "push_failed: ") {
		t.Fatalf("warning = %q", res.Warning)
	}
}
