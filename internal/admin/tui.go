package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/memgraph-mcp/internal/graph"
	"github.com/xiy/memgraph-mcp/pkg/types"
)

type tickMsg time.Time
type dashboardMsg struct {
	stats    graph.Stats
	sources  []types.SourceStats
	reqLogs  []graph.RequestLog
	nodes    []graph.RecentNode
	err      error
	duration time.Duration
}

type dashboardStore interface {
	Stats(ctx context.Context) (graph.Stats, error)
	RecentRequestLogs(ctx context.Context, limit int) ([]graph.RequestLog, error)
	RecentNodes(ctx context.Context, limit int) ([]graph.RecentNode, error)
}

// FederationStats reports per-source adapter stats, typically the bus.
type FederationStats interface {
	Stats(ctx context.Context) []types.SourceStats
}

type model struct {
	ctx           context.Context
	st            dashboardStore
	fed           FederationStats
	stats         graph.Stats
	sources       []types.SourceStats
	reqLogs       []graph.RequestLog
	nodes         []graph.RecentNode
	lastErr       error
	lastTick      time.Time
	logLines      []string
	maxLogs       int
	requestsLimit int
	nodesLimit    int
	width         int
	height        int
}

// Run starts a lightweight local admin dashboard. fed may be nil when
// no federation view is available.
func Run(ctx context.Context, st dashboardStore, fed FederationStats) error {
	m := model{
		ctx:           ctx,
		st:            st,
		fed:           fed,
		maxLogs:       10,
		requestsLimit: 8,
		nodesLimit:    8,
	}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.fed, m.requestsLimit, m.nodesLimit), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m = m.appendLog("received quit signal")
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.fed, m.requestsLimit, m.nodesLimit), tickCmd())
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.sources = msg.sources
			m.reqLogs = msg.reqLogs
			m.nodes = msg.nodes
			m = m.appendLog(fmt.Sprintf(
				"refresh ok nodes=%d edges=%d req=%d recent=%d (%s)",
				msg.stats.Nodes,
				msg.stats.Edges,
				len(msg.reqLogs),
				len(msg.nodes),
				formatDuration(msg.duration),
			))
		} else {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
		}
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("memgraph-mcp admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q to quit • refresh every 2s")

	statsBody := m.renderStats()
	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 54
	if m.width > 0 {
		paneWidth = max(38, (m.width-3)/2)
	}
	paneHeight := 9
	if m.height > 0 {
		paneHeight = max(8, (m.height-8)/2)
	}

	topRow := joinColumns(
		renderPane("Federation", statsBody, paneWidth, paneHeight),
		renderPane("General Logs", logBody, paneWidth, paneHeight),
	)
	bottomRow := joinColumns(
		renderPane("MCP Requests", formatRequestPane(m.reqLogs), paneWidth, paneHeight),
		renderPane("Recent Nodes", formatRecentNodesPane(m.nodes), paneWidth, paneHeight),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		topRow,
		bottomRow,
	)
}

func (m model) renderStats() string {
	body := fmt.Sprintf(
		"Nodes:           %d\nEdges:           %d\nNewest node:     %s\nLast refresh:    %s",
		m.stats.Nodes,
		m.stats.Edges,
		formatOptionalTime(m.stats.Newest),
		formatTime(m.lastTick),
	)
	for _, src := range m.sources {
		status := "up"
		if !src.Available {
			status = "down"
		}
		breaker := src.Breaker
		if breaker == "" {
			breaker = "-"
		}
		body += fmt.Sprintf("\n%-10s %-4s breaker=%-9s count=%d",
			truncateText(src.Name, 10), status, breaker, src.Count)
	}
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, st dashboardStore, fed FederationStats, reqLimit, nodeLimit int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		s, err := st.Stats(ctx)
		if err != nil {
			return dashboardMsg{err: err, duration: time.Since(start)}
		}

		var sources []types.SourceStats
		if fed != nil {
			sources = fed.Stats(ctx)
		}

		reqLogs, err := st.RecentRequestLogs(ctx, reqLimit)
		if err != nil {
			return dashboardMsg{stats: s, sources: sources, err: err, duration: time.Since(start)}
		}

		nodes, err := st.RecentNodes(ctx, nodeLimit)
		if err != nil {
			return dashboardMsg{stats: s, sources: sources, reqLogs: reqLogs, err: err, duration: time.Since(start)}
		}

		return dashboardMsg{
			stats:    s,
			sources:  sources,
			reqLogs:  reqLogs,
			nodes:    nodes,
			duration: time.Since(start),
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line)
	m.logLines = append(m.logLines, entry)
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func formatRequestPane(rows []graph.RequestLog) string {
	if len(rows) == 0 {
		return "(no MCP requests yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		method := strings.TrimSpace(row.Method)
		if row.ToolName != "" {
			method += ":" + strings.TrimSpace(row.ToolName)
		}
		status := "ok"
		if !row.Success {
			status = "err"
		}
		line := fmt.Sprintf(
			"[%s] %-3s %-24s %4dms",
			formatClock(row.CreatedAt),
			status,
			truncateText(method, 24),
			max(0, row.DurationMS),
		)
		if !row.Success && strings.TrimSpace(row.ErrorText) != "" {
			line += " " + truncateText(compactWhitespace(row.ErrorText), 52)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatRecentNodesPane(rows []graph.RecentNode) string {
	if len(rows) == 0 {
		return "(no nodes yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		value := truncateText(compactWhitespace(row.Value), 62)
		line := fmt.Sprintf(
			"[%s] %-8s %s :: %s",
			formatClock(row.CreatedAt),
			truncateText(row.Kind, 8),
			truncateText(row.Key, 24),
			value,
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
