package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"upserver/pkg/protocol"
)

// fetchTimeout is how long to wait for one daemon API round-trip.
const fetchTimeout = 5 * time.Second

// defaultAPIAddr returns the daemon address from env or the default bind.
func defaultAPIAddr() string {
	if v := os.Getenv("UPSERVER_ADDR"); v != "" {
		return v
	}
	return "127.0.0.1:7700"
}

// fetchServers pulls the staging-server list from the daemon.
// Returns nil and an error when the daemon is unreachable.
func fetchServers(ctx context.Context, addr string) ([]protocol.StagingServer, error) {
	var resp struct {
		Servers []protocol.StagingServer `json:"servers"`
	}
	if err := getJSON(ctx, addr, "/api/v1/staging", &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// fetchReviews pulls the review queue from the daemon.
func fetchReviews(ctx context.Context, addr string) ([]protocol.ReviewRequest, error) {
	var resp struct {
		Reviews []protocol.ReviewRequest `json:"reviews"`
	}
	if err := getJSON(ctx, addr, "/api/v1/reviews", &resp); err != nil {
		return nil, err
	}
	return resp.Reviews, nil
}

func getJSON(ctx context.Context, addr, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}
