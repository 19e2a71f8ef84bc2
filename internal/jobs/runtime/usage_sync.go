package runtime

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"keyportal/internal/database"
	"keyportal/internal/domain"
	"keyportal/internal/keys"
	"keyportal/internal/upstream"
)

// SyncStats summarizes one usage synchronization pass.
type SyncStats struct {
	UserRecords  int   `json:"user_records"`
	DailyRecords int   `json:"daily_records"`
	TotalTokens  int64 `json:"total_tokens"`
	UnknownKeys  int   `json:"unknown_keys"`
}

// UsageSource is the slice of the upstream client the sync jobs read from.
type UsageSource interface {
	Usage(ctx context.Context) (*upstream.UsageResponse, error)
}

// SyncUsage pulls the live usage block from the upstream and persists it:
// the per-day totals into daily_usage, and every request detail aggregated
// by (date, user, key) into user_usage. Keys without a registry owner are
// attributed to the "unknown" user and logged so they can be claimed later.
func SyncUsage(ctx context.Context, client UsageSource, registry *keys.Registry) (*SyncStats, error) {
	resp, err := client.Usage(ctx)
	if err != nil {
		return nil, err
	}
	usage := resp.Usage

	keyToUser, err := registry.KeyToUser()
	if err != nil {
		return nil, err
	}

	stats := &SyncStats{}

	for _, date := range mergedDates(usage.TokensByDay, usage.RequestsByDay) {
		row := domain.DailyUsage{
			Date:          date,
			TotalRequests: usage.RequestsByDay[date],
			SuccessCount:  usage.RequestsByDay[date],
			TotalTokens:   usage.TokensByDay[date],
		}
		if err := database.UpsertDailyUsage(row); err != nil {
			return stats, err
		}
		stats.DailyRecords++
		stats.TotalTokens += row.TotalTokens
	}

	type usageKey struct {
		date, email, apiKey string
	}
	aggregated := map[usageKey]*domain.UserUsage{}
	unknown := map[string]upstream.KeyUsage{}

	for apiKey, keyUsage := range usage.APIs {
		email, ok := keyToUser[apiKey]
		if !ok {
			email = "unknown"
			unknown[apiKey] = keyUsage
		}

		for _, model := range keyUsage.Models {
			for _, detail := range model.Details {
				date, ok := dateOfTimestamp(detail.Timestamp)
				if !ok {
					continue
				}

				k := usageKey{date: date, email: email, apiKey: apiKey}
				row, ok := aggregated[k]
				if !ok {
					row = &domain.UserUsage{Date: date, UserEmail: email, APIKey: apiKey}
					aggregated[k] = row
				}

				row.TotalRequests++
				if detail.Failed {
					row.FailureCount++
				} else {
					row.SuccessCount++
				}
				row.TotalTokens += detail.Tokens.TotalTokens
				row.InputTokens += detail.Tokens.InputTokens
				row.OutputTokens += detail.Tokens.OutputTokens
			}
		}
	}

	userRows := make([]domain.UserUsage, 0, len(aggregated))
	for _, row := range aggregated {
		userRows = append(userRows, *row)
	}
	if err := database.UpsertUserUsage(userRows); err != nil {
		return stats, err
	}
	stats.UserRecords = len(userRows)

	stats.UnknownKeys = len(unknown)
	for apiKey, keyUsage := range unknown {
		log.Warn("Usage reported for key without a registered owner",
			"key", apiKey,
			"total_tokens", keyUsage.TotalTokens,
			"total_requests", keyUsage.TotalRequests,
		)
	}

	log.Info("Usage synchronized",
		"user_records", stats.UserRecords,
		"days", stats.DailyRecords,
		"total_tokens", stats.TotalTokens,
	)
	return stats, nil
}

func mergedDates(tokensByDay, requestsByDay map[string]int64) []string {
	set := map[string]struct{}{}
	for date := range tokensByDay {
		set[date] = struct{}{}
	}
	for date := range requestsByDay {
		set[date] = struct{}{}
	}

	dates := make([]string, 0, len(set))
	for date := range set {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

func dateOfTimestamp(timestamp string) (string, bool) {
	if timestamp == "" {
		return "", false
	}
	date, _, found := strings.Cut(timestamp, "T")
	if !found || len(date) != 10 {
		return "", false
	}
	return date, true
}

var usageCSVHeader = []string{
	"date", "total_requests", "success_count", "failure_count",
	"total_tokens", "input_tokens", "output_tokens",
}

// WriteUsageCSV mirrors the persisted daily history to a CSV file, one row
// per day in ascending date order. The file is rewritten wholesale.
func WriteUsageCSV(path string) error {
	history, err := database.GetDailyUsageHistory()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(usageCSVHeader); err != nil {
		return err
	}
	for _, day := range history {
		record := []string{
			day.Date,
			strconv.FormatInt(day.TotalRequests, 10),
			strconv.FormatInt(day.SuccessCount, 10),
			strconv.FormatInt(day.FailureCount, 10),
			strconv.FormatInt(day.TotalTokens, 10),
			strconv.FormatInt(day.InputTokens, 10),
			strconv.FormatInt(day.OutputTokens, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	log.Info("Usage history mirrored to CSV", "path", path, "days", len(history))
	return nil
}

// RunUsageSync is the scheduled entry point: sync from upstream, then
// refresh the CSV mirror.
func RunUsageSync(ctx context.Context, client UsageSource, registry *keys.Registry, csvPath string) {
	start := time.Now()

	if _, err := SyncUsage(ctx, client, registry); err != nil {
		log.Error("Usage sync failed", "error", err)
		return
	}
	if err := WriteUsageCSV(csvPath); err != nil {
		log.Error("Failed to write usage CSV", "error", err)
		return
	}

	log.Info("Usage sync completed", "duration", time.Since(start))
}
