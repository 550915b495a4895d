package analytics

import "time"

// Summary aggregates the dashboard headline figures.
type Summary struct {
	Users       UserStats     `json:"users"`
	Content     ContentStats  `json:"content"`
	BlockedIPs  int64         `json:"blocked_ips"`
	Activity    []DayActivity `json:"activity"`
	WindowDays  int           `json:"window_days"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// UserStats counts accounts.
type UserStats struct {
	Total  int64            `json:"total"`
	Active int64            `json:"active"`
	ByRole map[string]int64 `json:"by_role"`
}

// ContentStats counts content items by status.
type ContentStats struct {
	Total     int64 `json:"total"`
	Published int64 `json:"published"`
	Drafts    int64 `json:"drafts"`
}

// DayActivity is the number of audit events on one UTC day.
type DayActivity struct {
	Day    string `json:"day"`
	Events int64  `json:"events"`
}
