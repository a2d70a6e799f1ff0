// Package output provides terminal output utilities for pkgtrack.
//
// This package includes:
//   - Table rendering for tracked packages, pending updates, and history
//   - Progress bars for downloads and batch update runs
//   - Spinners for indeterminate operations
//   - Human-readable formatting for sizes and dates
//
// Table rendering uses ASCII layout with ANSI colors via fatih/color, which
// disables itself automatically on non-TTY output and under NO_COLOR.
// Progress indicators are thread-safe.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/pkgtrack/internal/history"
	"github.com/blackwell-systems/pkgtrack/internal/service"
	"github.com/blackwell-systems/pkgtrack/internal/track"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.FgHiBlack)
)

// IsTTY returns true if os.Stdout is a terminal. Progress animation is
// skipped on non-TTY output; coloring is handled by fatih/color itself.
func IsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// RenderTrackedTable renders the tracked-package listing in insertion
// order, matching the order packages were first tracked.
func RenderTrackedTable(packages []track.TrackedPackage) string {
	if len(packages) == 0 {
		return "No packages tracked. Use 'pkgtrack track <name>' to start.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-20s %-8s %-14s %-14s %-14s %s\n",
		"Package", "Source", "Installed", "Latest", "Checked", "Status"))
	sb.WriteString(strings.Repeat("─", 86))
	sb.WriteString("\n")

	for _, pkg := range packages {
		checked := "never"
		if pkg.LastCheckedAt != nil {
			checked = formatRelativeTime(*pkg.LastCheckedAt)
		}
		latest := pkg.LastKnownLatestVersion
		if latest == "" {
			latest = "?"
		}

		sb.WriteString(fmt.Sprintf("%-20s %-8s %-14s %-14s %-14s %s\n",
			truncate(pkg.Name, 20),
			pkg.Source,
			truncate(pkg.InstalledVersion, 14),
			truncate(latest, 14),
			checked,
			trackedStatus(pkg)))
	}

	return sb.String()
}

func trackedStatus(pkg track.TrackedPackage) string {
	switch {
	case pkg.LastCheckedAt == nil:
		return dimColor.Sprint("unchecked")
	case pkg.UpdatePending():
		return warnColor.Sprintf("update %s pending", pkg.LastKnownLatestVersion)
	default:
		return okColor.Sprint("up to date")
	}
}

// RenderPendingTable renders only the packages with a known newer version.
func RenderPendingTable(pending []track.TrackedPackage) string {
	if len(pending) == 0 {
		return "All tracked packages are up to date.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-20s %-8s %-14s %s\n",
		"Package", "Source", "Installed", "Available"))
	sb.WriteString(strings.Repeat("─", 60))
	sb.WriteString("\n")

	for _, pkg := range pending {
		sb.WriteString(fmt.Sprintf("%-20s %-8s %-14s %s\n",
			truncate(pkg.Name, 20),
			pkg.Source,
			truncate(pkg.InstalledVersion, 14),
			warnColor.Sprint(pkg.LastKnownLatestVersion)))
	}

	return sb.String()
}

// RenderCycleResults renders the per-package outcome table of one update
// run, in the order the packages were processed.
func RenderCycleResults(results []service.PackageResult) string {
	if len(results) == 0 {
		return "No packages checked.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-20s %-8s %-14s %-14s %s\n",
		"Package", "Source", "Installed", "Latest", "Result"))
	sb.WriteString(strings.Repeat("─", 76))
	sb.WriteString("\n")

	for _, res := range results {
		latest := res.Latest
		if latest == "" {
			latest = "?"
		}
		sb.WriteString(fmt.Sprintf("%-20s %-8s %-14s %-14s %s\n",
			truncate(res.Name, 20),
			res.Source,
			truncate(res.Installed, 14),
			truncate(latest, 14),
			resultLabel(res)))
		if res.Warning != "" {
			sb.WriteString(warnColor.Sprintf("  ⚠ %s\n", res.Warning))
		}
		if res.Err != nil {
			sb.WriteString(failColor.Sprintf("  ✗ %v\n", res.Err))
		}
	}

	return sb.String()
}

func resultLabel(res service.PackageResult) string {
	switch {
	case res.Err != nil:
		return failColor.Sprint("failed")
	case res.UpdateApplied:
		return okColor.Sprint("updated")
	case res.Pending:
		return warnColor.Sprint("pending")
	case res.UpdateFound:
		return warnColor.Sprint("update found")
	default:
		return okColor.Sprint("up to date")
	}
}

// RenderCycleSummary renders the one-line batch footer for an update run.
func RenderCycleSummary(summary service.CycleSummary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Checked: %d · Updates: %d · Applied: %d",
		summary.Checked, summary.UpdatesFound, summary.Applied))

	if summary.Failed > 0 {
		sb.WriteString(" · ")
		sb.WriteString(failColor.Sprintf("Failed: %d", summary.Failed))
	}
	if summary.Stopped {
		sb.WriteString(" · ")
		sb.WriteString(warnColor.Sprint("stopped early"))
	}

	return sb.String()
}

// RenderHistoryTable renders update-history events newest first.
func RenderHistoryTable(events []history.Event) string {
	if len(events) == 0 {
		return "No history recorded yet.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-14s %-20s %-8s %-16s %s\n",
		"When", "Package", "Source", "Event", "Detail"))
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")

	for _, ev := range events {
		detail := ev.Detail
		if detail == "" && ev.LatestVersion != "" {
			detail = fmt.Sprintf("%s → %s", ev.InstalledVersion, ev.LatestVersion)
		}
		sb.WriteString(fmt.Sprintf("%-14s %-20s %-8s %-16s %s\n",
			formatRelativeTime(ev.Timestamp),
			truncate(ev.Package, 20),
			ev.Source,
			eventLabel(ev.Type),
			truncate(detail, 40)))
	}

	return sb.String()
}

func eventLabel(eventType string) string {
	switch eventType {
	case history.EventUpdateApplied:
		return okColor.Sprint("update applied")
	case history.EventFailure:
		return failColor.Sprint("failure")
	default:
		return eventType
	}
}

// RenderConfigList renders configuration keys and values in a stable order.
func RenderConfigList(entries [][2]string) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("%-28s %s\n", e[0], e[1]))
	}
	return sb.String()
}

// RenderServiceStatus renders the service status block.
func RenderServiceStatus(status service.Status) string {
	var sb strings.Builder

	if status.Running {
		sb.WriteString(okColor.Sprint("Service: running"))
		sb.WriteString(fmt.Sprintf(" (pid %d)\n", status.PID))
	} else {
		sb.WriteString(dimColor.Sprint("Service: stopped"))
		sb.WriteString("\n")
	}

	if status.LastRunAt != nil {
		sb.WriteString(fmt.Sprintf("Last check: %s\n", *status.LastRunAt))
	} else {
		sb.WriteString("Last check: never\n")
	}
	if status.NextRunAt != nil {
		sb.WriteString(fmt.Sprintf("Next check: %s\n", *status.NextRunAt))
	}

	if len(status.PendingUpdates) > 0 {
		sb.WriteString(warnColor.Sprintf("Pending updates: %d\n", len(status.PendingUpdates)))
	} else {
		sb.WriteString("Pending updates: none\n")
	}

	return sb.String()
}

// FormatSize converts bytes to human-readable size (GB, MB, KB).
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.0f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.0f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	case diff < 30*24*time.Hour:
		weeks := int(diff.Hours() / 24 / 7)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	case diff < 365*24*time.Hour:
		months := int(diff.Hours() / 24 / 30)
		if months == 1 {
			return "1 month ago"
		}
		return fmt.Sprintf("%d months ago", months)
	default:
		years := int(diff.Hours() / 24 / 365)
		if years == 1 {
			return "1 year ago"
		}
		return fmt.Sprintf("%d years ago", years)
	}
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
