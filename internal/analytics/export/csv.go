package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/beacon-dash/beacon/internal/analytics"
)

// WriteSummaryCSV serialises the dashboard summary to a CSV representation.
func WriteSummaryCSV(w io.Writer, summary analytics.Summary) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	records := [][]string{
		{"Generated At", summary.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Users", formatInt(summary.Users.Total)},
		{"Active Users", formatInt(summary.Users.Active)},
		{"Content", formatInt(summary.Content.Total)},
		{"Published", formatInt(summary.Content.Published)},
		{"Drafts", formatInt(summary.Content.Drafts)},
		{"Blocked IPs", formatInt(summary.BlockedIPs)},
	}
	roles := make([]string, 0, len(summary.Users.ByRole))
	for role := range summary.Users.ByRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		records = append(records, []string{"Users (" + role + ")", formatInt(summary.Users.ByRole[role])})
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteActivityCSV emits the daily audit activity as CSV.
func WriteActivityCSV(w io.Writer, days []analytics.DayActivity) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Day", "Events"}); err != nil {
		return err
	}
	for _, day := range days {
		if err := writer.Write([]string{day.Day, formatInt(day.Events)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
