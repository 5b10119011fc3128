// Package main implements the upserver-dash interactive dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"upserver/pkg/protocol"
)

// robotMode outputs one JSON snapshot of servers and reviews, for scripts
// and agents that want the dashboard data without a TTY.
func robotMode(servers []protocol.StagingServer, reviews []protocol.ReviewRequest) ([]byte, error) {
	snapshot := map[string]any{
		"servers": servers,
		"reviews": reviews,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func main() {
	jsonOut := flag.Bool("json", false, "print one JSON snapshot and exit")
	addr := flag.String("addr", defaultAPIAddr(), "daemon API address")
	flag.Parse()

	if *jsonOut {
		ctx := context.Background()
		servers, err := fetchServers(ctx, *addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		reviews, err := fetchReviews(ctx, *addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		data, err := robotMode(servers, reviews)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	p := tea.NewProgram(newModel(*addr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
