package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entry is one leaderboard line.
type Entry struct {
	Name     string
	Value    float64
	Distance float64
}

// Status is what /status and /top report.
type Status struct {
	ContestName  string
	CurrentPrice *float64
	ClosePrice   *float64
	LastFetchAt  time.Time
	TokenStatus  string
	TokenError   string
	Top          []Entry
}

// StatusSource builds a Status on demand.
type StatusSource interface {
	Status(ctx context.Context) (Status, error)
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func(ctx context.Context) (Status, error)

// Status calls f.
func (f StatusFunc) Status(ctx context.Context) (Status, error) {
	return f(ctx)
}

func formatPrice(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return escapeMarkdownV2(fmt.Sprintf("%.2f", *p))
}

func formatStatus(st Status) string {
	var b strings.Builder
	b.WriteString("📊 *Nifty Oracle status*\n\n")

	contest := st.ContestName
	if contest == "" {
		contest = "No active contest"
	}
	fmt.Fprintf(&b, "Contest: %s\n", escapeMarkdownV2(contest))
	fmt.Fprintf(&b, "Price: %s\n", formatPrice(st.CurrentPrice))
	fmt.Fprintf(&b, "Close: %s\n", formatPrice(st.ClosePrice))
	if !st.LastFetchAt.IsZero() {
		fmt.Fprintf(&b, "Last fetch: %s\n", escapeMarkdownV2(st.LastFetchAt.Format("2006-01-02 15:04:05")))
	}
	fmt.Fprintf(&b, "Token: %s", escapeMarkdownV2(st.TokenStatus))
	if st.TokenError != "" {
		fmt.Fprintf(&b, "\n`%s`", escapeMarkdownV2(st.TokenError))
	}
	return b.String()
}

func formatTop(st Status) string {
	var b strings.Builder
	b.WriteString("🏆 *Closest predictions*\n\n")
	if len(st.Top) == 0 {
		b.WriteString("No ranked predictions yet\\.")
		return b.String()
	}
	for i, e := range st.Top {
		fmt.Fprintf(&b, "%d\\. %s: %s \\(±%s\\)\n", i+1,
			escapeMarkdownV2(e.Name),
			escapeMarkdownV2(fmt.Sprintf("%.2f", e.Value)),
			escapeMarkdownV2(fmt.Sprintf("%.2f", e.Distance)))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
