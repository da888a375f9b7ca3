package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalIdentities int64  `json:"total_identities"`
	TotalMessages   int64  `json:"total_messages"`
	LastActivity    string `json:"last_activity"`
	LastMessageAt   string `json:"last_message_at,omitempty"`
}

// Stats returns relay totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.Fail(w, err)
		return
	}

	resp := StatsResponse{
		TotalIdentities: stats.Identities,
		TotalMessages:   stats.Messages,
		LastActivity:    "no activity yet",
	}
	if stats.LastMessageAt != nil {
		resp.LastActivity = formatTimeAgo(*stats.LastMessageAt)
		resp.LastMessageAt = stats.LastMessageAt.UTC().Format(time.RFC3339Nano)
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	default:
		return plural(int(diff.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return strconv.Itoa(n) + " " + unit + "s ago"
}
