package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/vobby/vobby/internal/controlplane"
	"github.com/vobby/vobby/internal/mirror"
)

var (
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))

	labelStyle = gray.Width(11)
	titleStyle = cyan.Bold(true)
)

func renderStatus(st *controlplane.StatusResponse) string {
	connected := red.Render("no")
	if st.Bridge.Connected {
		connected = green.Render("yes")
	}

	rows := [][2]string{
		{"connected", connected},
		{"user", st.Bridge.User},
		{"documents", humanize.Comma(int64(st.Bridge.Documents))},
		{"bindings", humanize.Comma(int64(st.Bridge.Bindings))},
		{"backlog", humanize.Comma(int64(st.Bridge.Backlog))},
		{"version", fmt.Sprintf("%s (%s)", st.Version, st.Revision)},
	}

	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(labelStyle.Render(r[0]) + r[1] + "\n")
	}
	return sb.String()
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "live":
		return green
	case "closed":
		return red
	default:
		return cyan
	}
}

func renderDocuments(docs []mirror.Info) string {
	if len(docs) == 0 {
		return gray.Render("no open documents") + "\n"
	}

	width := 0
	for _, d := range docs {
		width = max(width, len(d.Path))
	}
	pathStyle := lipgloss.NewStyle().Width(width + 2)

	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(pathStyle.Render(d.Path))
		sb.WriteString(stateStyle(d.State).Width(10).Render(d.State))
		sb.WriteString(fmt.Sprintf("%s chars", humanize.Comma(int64(d.Length))))
		if d.Queued > 0 {
			sb.WriteString(gray.Render(fmt.Sprintf("  %d queued", d.Queued)))
		}
		sb.WriteString(gray.Render(fmt.Sprintf("  %d endpoints", len(d.Endpoints))))
		sb.WriteString("\n")
	}
	return sb.String()
}
