package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vobby/vobby/internal/controlplane"
	"github.com/vobby/vobby/internal/mirror"
)

const defaultWatchInterval = time.Second

var (
	helpStyle        = gray
	errorHeaderStyle = red.Bold(true)
)

type snapshot struct {
	status *controlplane.StatusResponse
	docs   []mirror.Info
}

type fetchFunc func(ctx context.Context) (*snapshot, error)

// --- Messages ---
type snapshotMsg struct {
	snap *snapshot
	err  error
	at   time.Time
}
type refreshMsg struct{}

type watchModel struct {
	ctx      context.Context
	fetch    fetchFunc
	interval time.Duration
	spinner  spinner.Model

	snap    *snapshot
	err     error
	updated time.Time
	loading bool
}

func newWatchModel(ctx context.Context, fetch fetchFunc, interval time.Duration) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = cyan

	return watchModel{
		ctx:      ctx,
		fetch:    fetch,
		interval: interval,
		spinner:  s,
		loading:  true,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

func (m watchModel) fetchCmd() tea.Cmd {
	ctx, fetch := m.ctx, m.fetch
	return func() tea.Msg {
		snap, err := fetch(ctx)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.fetchCmd()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.updated = msg.at
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return refreshMsg{} })

	case refreshMsg:
		m.loading = true
		return m, m.fetchCmd()
	}

	return m, nil
}

func (m watchModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("vobby"))
	if m.loading {
		sb.WriteString(" " + m.spinner.View())
	}
	sb.WriteString("\n\n")

	if m.err != nil {
		sb.WriteString(errorHeaderStyle.Render("error") + " " + m.err.Error() + "\n\n")
	}

	if m.snap != nil {
		sb.WriteString(renderStatus(m.snap.status))
		sb.WriteString("\n")
		sb.WriteString(renderDocuments(m.snap.docs))
		sb.WriteString("\n")
		sb.WriteString(gray.Render(fmt.Sprintf("updated %s", humanize.Time(m.updated))) + "\n")
	} else if m.err == nil {
		sb.WriteString(gray.Render("connecting...") + "\n")
	}

	sb.WriteString(helpStyle.Render("'r' refresh, 'q' quit") + "\n")
	return sb.String()
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of the bridge status and documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCPClient(cmd)
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")

			fetch := func(ctx context.Context) (*snapshot, error) {
				st, err := c.Status(ctx)
				if err != nil {
					return nil, err
				}
				docs, err := c.Documents(ctx)
				if err != nil {
					return nil, err
				}
				return &snapshot{status: st, docs: docs.Documents}, nil
			}

			p := tea.NewProgram(newWatchModel(cmd.Context(), fetch, interval),
				tea.WithContext(cmd.Context()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().Duration("interval", defaultWatchInterval, "refresh interval")
	return cmd
}
