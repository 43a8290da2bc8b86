package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/callrelay/internal/signaling"
)

// RenderRooms writes the relay's live rooms as a table.
func RenderRooms(w io.Writer, rooms []signaling.RoomInfo) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, MutedStyle.Render("No active rooms"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("🏥 Active rooms")
	t.AppendHeader(table.Row{"Room", "Members", "Users"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Members", Align: text.AlignRight},
	})

	total := 0
	for _, r := range rooms {
		users := make([]string, 0, len(r.Members))
		for _, m := range r.Members {
			if m.UserRole != "" {
				users = append(users, fmt.Sprintf("%s (%s)", m.UserID, m.UserRole))
			} else {
				users = append(users, m.UserID)
			}
		}
		total += len(r.Members)
		t.AppendRow(table.Row{r.RoomID, len(r.Members), strings.Join(users, ", ")})
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d room(s)", len(rooms)), total, ""})
	t.Render()
}
