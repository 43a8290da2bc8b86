package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/callrelay/internal/signaling"
)

// MembersView renders the members of a room, marking self.
func MembersView(members []signaling.Member, self string) string {
	if len(members) == 0 {
		return MutedStyle.Render("No members")
	}

	var rows [][]string
	for i, m := range members {
		name := m.UserID
		if m.UserID == self {
			name += " (you)"
		}
		role := m.UserRole
		if role == "" {
			role = "-"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), name, role})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "User", "Role").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RoomCard renders the joined room id in a box.
func RoomCard(roomID string, members int) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joined room %s\n\n%s %d member(s) present",
		IconRoom, BoldStyle.Foreground(Primary).Render(roomID),
		IconPeer, members,
	)
	return boxStyle.Render(content)
}
