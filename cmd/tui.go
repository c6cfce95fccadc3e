// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Thermoquad/kiln/pkg/flash"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model
type model struct {
	title         string
	connInfo      string
	cancel        context.CancelFunc
	phase         flash.Phase
	last          flash.Progress
	bar           progress.Model
	eventLog      []logEntry
	maxLogEntries int
	start         time.Time
	done          bool
	err           error
	summary       string
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type progressMsg flash.Progress
type doneMsg struct {
	summary string
	err     error
}

func initialModel(title, connInfo string, cancel context.CancelFunc) model {
	return model{
		title:         title,
		connInfo:      connInfo,
		cancel:        cancel,
		bar:           progress.New(progress.WithDefaultGradient()),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		start:         time.Now(),
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// The current step finishes before the operation stops
			m.quitting = true
			m.cancel()
			m.addLogEntry("Cancelling after the current step...", true)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 8
		if m.bar.Width > 72 {
			m.bar.Width = 72
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case progressMsg:
		p := flash.Progress(msg)
		if p.Phase != m.phase {
			m.phase = p.Phase
			m.addLogEntry(fmt.Sprintf("%s started", phaseTitle(p.Phase)), false)
		}
		m.last = p

	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
		} else {
			m.addLogEntry("Done", false)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func phaseTitle(p flash.Phase) string {
	if p == "" {
		return "Connecting"
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

func (m model) View() string {
	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("KILN - " + strings.ToUpper(m.title)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Press 'q' to %s", m.connInfo, func() string {
		if m.done {
			return "quit"
		}
		return "cancel"
	}())))
	s.WriteString("\n\n")

	// Progress
	content := strings.Builder{}
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Phase:"), valueStyle.Render(phaseTitle(m.phase)),
		labelStyle.Render("Step:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.last.Current, m.last.Total)),
		labelStyle.Render("Address:"), valueStyle.Render(fmt.Sprintf("0x%08X", m.last.Address)),
	))
	content.WriteString(m.bar.ViewAs(m.last.Percentage / 100))
	content.WriteString("\n")
	elapsed := time.Since(m.start)
	rate := 0.0
	if m.last.Elapsed > 0 {
		rate = float64(m.last.Bytes) / m.last.Elapsed.Seconds() / 1024
	}
	content.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Elapsed:"), valueStyle.Render(elapsed.Truncate(time.Second).String()),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f KiB/s", rate)),
	))
	s.WriteString(boxStyle.Render(content.String()))
	s.WriteString("\n\n")

	if m.summary != "" {
		s.WriteString(boxStyle.Render(strings.TrimRight(m.summary, "\n")))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 14
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

// job is a long operation reporting to an Observer. It returns a summary
// shown when it ends.
type job func(ctx context.Context, obs flash.Observer) (string, error)

// useTUI reports whether progress should be shown full screen
func useTUI(disabled bool) bool {
	return !disabled && term.IsTerminal(int(os.Stdout.Fd()))
}

// runJob runs j under the TUI, or with line progress when the TUI is off
func runJob(ctx context.Context, title, connInfo string, tui bool, j job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !tui {
		summary, err := j(ctx, &consoleObserver{})
		fmt.Println()
		if summary != "" {
			fmt.Print(summary)
		}
		return err
	}

	p := tea.NewProgram(initialModel(title, connInfo, cancel), tea.WithAltScreen())
	updates := make(chan flash.Progress, 64)
	jobDone := make(chan struct{})
	var res doneMsg

	go func() {
		summary, err := j(ctx, flash.ChannelObserver(updates))
		res = doneMsg{summary: summary, err: err}
		close(updates)
		close(jobDone)
	}()
	go func() {
		for u := range updates {
			p.Send(progressMsg(u))
		}
		<-jobDone
		p.Send(res)
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-jobDone
		return fmt.Errorf("TUI error: %w", err)
	}
	m := final.(model)
	if !m.done {
		// Quit before the job finished; wait for it to stop
		cancel()
		<-jobDone
		return res.err
	}
	if m.summary != "" {
		fmt.Print(m.summary)
	}
	return m.err
}

// consoleObserver prints one updating line per phase
type consoleObserver struct {
	phase   flash.Phase
	lastPct int
}

func (c *consoleObserver) Progress(p flash.Progress) {
	if p.Phase != c.phase {
		if c.phase != "" {
			fmt.Println()
		}
		c.phase = p.Phase
		c.lastPct = -1
	}
	pct := int(p.Percentage)
	if pct == c.lastPct {
		return
	}
	c.lastPct = pct
	fmt.Printf("\r%-10s %3d%%  %d/%d  0x%08X", phaseTitle(p.Phase), pct, p.Current, p.Total, p.Address)
}
