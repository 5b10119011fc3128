package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"upserver/pkg/protocol"
)

// tickMsg is sent on every refresh interval.
type tickMsg time.Time

// serversMsg carries a fetched staging-server list. nil means the daemon
// is offline.
type serversMsg []protocol.StagingServer

// reviewsMsg carries the fetched review queue.
type reviewsMsg []protocol.ReviewRequest

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchServersCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		servers, err := fetchServers(context.Background(), addr)
		if err != nil {
			return serversMsg(nil)
		}
		if servers == nil {
			servers = []protocol.StagingServer{}
		}
		return serversMsg(servers)
	}
}

func fetchReviewsCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		reviews, _ := fetchReviews(context.Background(), addr)
		return reviewsMsg(reviews)
	}
}

// ViewType represents the two dashboard tabs.
type ViewType int

const (
	// ServersView shows the staging-server table.
	ServersView ViewType = iota
	// ReviewsView shows the review-queue table.
	ReviewsView
)

// Model is the Bubble Tea model for the upserver dashboard.
type Model struct {
	addr       string
	activeView ViewType

	daemonHealthy bool
	servers       []protocol.StagingServer
	reviews       []protocol.ReviewRequest

	serverTable table.Model
	reviewTable table.Model

	width  int
	height int
	theme  Theme
}

func newModel(addr string) Model {
	theme := DefaultTheme()

	serverTable := table.New(
		table.WithColumns(serverColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	reviewTable := table.New(
		table.WithColumns(reviewColumns(80)),
		table.WithHeight(10),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(theme.Primary)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	serverTable.SetStyles(styles)
	reviewTable.SetStyles(styles)

	return Model{
		addr:        addr,
		theme:       theme,
		serverTable: serverTable,
		reviewTable: reviewTable,
	}
}

// Init starts the first fetch and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchServersCmd(m.addr), fetchReviewsCmd(m.addr), tickCmd())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.serverTable.SetColumns(serverColumns(m.width))
		m.reviewTable.SetColumns(reviewColumns(m.width))
		tableHeight := m.height - 6
		if tableHeight < 3 {
			tableHeight = 3
		}
		m.serverTable.SetHeight(tableHeight)
		m.reviewTable.SetHeight(tableHeight)
		return m, nil

	case tickMsg:
		return m, tea.Batch(fetchServersCmd(m.addr), fetchReviewsCmd(m.addr), tickCmd())

	case serversMsg:
		m.daemonHealthy = msg != nil
		m.servers = msg
		m.serverTable.SetRows(serverRows(m.servers))
		return m, nil

	case reviewsMsg:
		m.reviews = msg
		m.reviewTable.SetRows(reviewRows(m.reviews))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.activeView == ServersView {
				m.activeView = ReviewsView
				m.serverTable.Blur()
				m.reviewTable.Focus()
			} else {
				m.activeView = ServersView
				m.reviewTable.Blur()
				m.serverTable.Focus()
			}
			return m, nil
		case "r":
			return m, tea.Batch(fetchServersCmd(m.addr), fetchReviewsCmd(m.addr))
		}
	}

	var cmd tea.Cmd
	if m.activeView == ServersView {
		m.serverTable, cmd = m.serverTable.Update(msg)
	} else {
		m.reviewTable, cmd = m.reviewTable.Update(msg)
	}
	return m, cmd
}

// View renders the dashboard.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary)
	mutedStyle := lipgloss.NewStyle().Foreground(m.theme.Muted)

	header := titleStyle.Render("upserver") + "  "
	if m.daemonHealthy {
		header += lipgloss.NewStyle().Foreground(m.theme.Success).Render("● daemon up")
	} else {
		header += lipgloss.NewStyle().Foreground(m.theme.Error).Render("○ daemon offline")
	}
	header += mutedStyle.Render(fmt.Sprintf("  %d servers, %d reviews", len(m.servers), len(m.reviews)))

	var body string
	if m.activeView == ServersView {
		body = titleStyle.Render("Staging servers") + "\n" + m.serverTable.View()
	} else {
		body = titleStyle.Render("Review queue") + "\n" + m.reviewTable.View()
	}

	footer := mutedStyle.Render("tab: switch view • r: refresh • q: quit")
	return header + "\n\n" + body + "\n" + footer
}

func serverColumns(width int) []table.Column {
	detail := width - 46
	if detail < 12 {
		detail = 12
	}
	return []table.Column{
		{Title: "CUSTOMER", Width: 16},
		{Title: "STATE", Width: 8},
		{Title: "PORT", Width: 6},
		{Title: "PID", Width: 7},
		{Title: "LAST ERROR", Width: detail},
	}
}

func serverRows(servers []protocol.StagingServer) []table.Row {
	rows := make([]table.Row, 0, len(servers))
	for _, s := range servers {
		port, pid := "-", "-"
		if s.Port != 0 {
			port = fmt.Sprintf("%d", s.Port)
		}
		if s.PID != 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		rows = append(rows, table.Row{s.CustomerID, string(s.State), port, pid, s.LastError})
	}
	return rows
}

func reviewColumns(width int) []table.Column {
	reason := width - 52
	if reason < 12 {
		reason = 12
	}
	return []table.Column{
		{Title: "ID", Width: 9},
		{Title: "CUSTOMER", Width: 16},
		{Title: "STATUS", Width: 9},
		{Title: "SCOPE", Width: 9},
		{Title: "REASON", Width: reason},
	}
}

func reviewRows(reviews []protocol.ReviewRequest) []table.Row {
	rows := make([]table.Row, 0, len(reviews))
	for _, r := range reviews {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{id, r.CustomerID, string(r.Status), r.Scope, r.Reason})
	}
	return rows
}
