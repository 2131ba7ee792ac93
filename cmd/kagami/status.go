package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harunnryd/kagami/internal/vision/contract"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the availability of every configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		orch, err := newOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}

		order := orch.Config().ProviderOrder
		fmt.Fprintln(cmd.OutOrStdout(), renderStatusTable(order, orch.ProviderStatus(ctx)))
		return nil
	},
}

var (
	statusPurple = lipgloss.Color("99")
	statusStyles = map[contract.ProviderStatus]lipgloss.Style{
		contract.StatusAvailable:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		contract.StatusDegraded:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		contract.StatusRateLimited: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		contract.StatusUnavailable: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// renderStatusTable lists providers in failover order, then any configured
// provider the order does not mention.
func renderStatusTable(order []contract.ProviderID, statuses map[contract.ProviderID]contract.ProviderStatus) string {
	if len(statuses) == 0 {
		return "No providers configured"
	}

	rows := make([]contract.ProviderID, 0, len(statuses))
	seen := make(map[contract.ProviderID]bool, len(statuses))
	for _, id := range order {
		if _, ok := statuses[id]; ok {
			rows = append(rows, id)
			seen[id] = true
		}
	}
	var rest []contract.ProviderID
	for id := range statuses {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	rows = append(rows, rest...)

	headerStyle := lipgloss.NewStyle().Foreground(statusPurple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(statusPurple)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(rows) {
				if s, ok := statusStyles[statuses[rows[row]]]; ok {
					return s.Padding(0, 1)
				}
			}
			return cellStyle
		}).
		Headers("#", "Provider", "Status")

	for i, id := range rows {
		t.Row(fmt.Sprintf("%d", i+1), string(id), string(statuses[id]))
	}
	return t.String()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
