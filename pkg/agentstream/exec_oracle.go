package agentstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// ExecOracle runs an external agent command once per turn. The command is
// invoked with --site-dir and, on resumed sessions, --resume; the prompt
// arrives on stdin and events leave as one JSON object per stdout line.
// Lines that do not parse are treated as plain text output, so a chatty
// agent degrades to prose instead of losing the turn.
type ExecOracle struct {
	Command []string
}

// Run implements Oracle.
func (o *ExecOracle) Run(ctx context.Context, req Request) (<-chan Event, error) {
	if len(o.Command) == 0 {
		return nil, fmt.Errorf("agent command not configured")
	}

	args := append([]string(nil), o.Command[1:]...)
	args = append(args, "--site-dir", req.SiteDir)
	if req.Resume != "" {
		args = append(args, "--resume", req.Resume)
	}

	cmd := exec.CommandContext(ctx, o.Command[0], args...)
	cmd.Dir = req.SiteDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
				events <- Event{Type: EventText, Text: line + "\n"}
				continue
			}
			events <- ev
		}

		if err := cmd.Wait(); err != nil {
			events <- Event{Type: EventError, Detail: fmt.Sprintf("agent exited: %v", err)}
		}
	}()
	return events, nil
}
