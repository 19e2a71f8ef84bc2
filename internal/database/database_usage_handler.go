package database

import (
	"fmt"
	"time"

	"keyportal/internal/api/dto"
	"keyportal/internal/domain"

	"gorm.io/gorm/clause"
)

// UpsertDailyUsage replaces the counters for one day, keeping created_at from
// the original row.
func UpsertDailyUsage(row domain.DailyUsage) error {
	return DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_requests", "success_count", "failure_count",
			"total_tokens", "input_tokens", "output_tokens", "updated_at",
		}),
	}).Create(&row).Error
}

func UpsertUserUsage(rows []domain.UserUsage) error {
	if len(rows) == 0 {
		return nil
	}

	return DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "user_email"}, {Name: "api_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_requests", "success_count", "failure_count",
			"total_tokens", "input_tokens", "output_tokens", "updated_at",
		}),
	}).Create(&rows).Error
}

func GetDailyUsageHistory() ([]domain.DailyUsage, error) {
	var rows []domain.DailyUsage
	err := DB.Order("date ASC").Find(&rows).Error
	return rows, err
}

// GetUserUsageByPeriod aggregates per-user usage by day, month or year. The
// period key is a prefix of the YYYY-MM-DD date string.
func GetUserUsageByPeriod(period string) ([]dto.UserPeriodUsage, error) {
	var periodExpr string
	switch period {
	case "month":
		periodExpr = "substr(date, 1, 7)"
	case "year":
		periodExpr = "substr(date, 1, 4)"
	case "day", "":
		periodExpr = "date"
	default:
		return nil, fmt.Errorf("database: unknown aggregation period %q", period)
	}

	var rows []dto.UserPeriodUsage
	err := DB.Model(&domain.UserUsage{}).
		Select(fmt.Sprintf(`user_email,
			%s AS period,
			SUM(total_requests) AS total_requests,
			SUM(success_count) AS success_count,
			SUM(failure_count) AS failure_count,
			SUM(total_tokens) AS total_tokens,
			SUM(input_tokens) AS input_tokens,
			SUM(output_tokens) AS output_tokens,
			COUNT(DISTINCT api_key) AS key_count`, periodExpr)).
		Group("user_email, period").
		Order("period DESC, total_tokens DESC").
		Scan(&rows).Error

	return rows, err
}

func GetUserTotalUsage(userEmail string) (*dto.UserUsageTotals, error) {
	var row dto.UserUsageTotals
	err := DB.Model(&domain.UserUsage{}).
		Select(`user_email,
			SUM(total_requests) AS total_requests,
			SUM(success_count) AS success_count,
			SUM(failure_count) AS failure_count,
			SUM(total_tokens) AS total_tokens,
			SUM(input_tokens) AS input_tokens,
			SUM(output_tokens) AS output_tokens,
			COUNT(DISTINCT api_key) AS key_count,
			COUNT(DISTINCT date) AS day_count`).
		Where("user_email = ?", userEmail).
		Group("user_email").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserEmail == "" {
		return nil, nil
	}
	return &row, nil
}

func GetAllUsersTotalUsage() ([]dto.UserUsageTotals, error) {
	var rows []dto.UserUsageTotals
	err := DB.Model(&domain.UserUsage{}).
		Select(`user_email,
			SUM(total_requests) AS total_requests,
			SUM(success_count) AS success_count,
			SUM(failure_count) AS failure_count,
			SUM(total_tokens) AS total_tokens,
			SUM(input_tokens) AS input_tokens,
			SUM(output_tokens) AS output_tokens,
			COUNT(DISTINCT api_key) AS key_count,
			COUNT(DISTINCT date) AS day_count`).
		Group("user_email").
		Order("total_tokens DESC").
		Scan(&rows).Error
	return rows, err
}

// GetUsageAggregated returns the daily history plus monthly and yearly
// rollups derived from it.
func GetUsageAggregated() (dto.UsageAggregates, error) {
	history, err := GetDailyUsageHistory()
	if err != nil {
		return dto.UsageAggregates{}, err
	}

	byMonth := make(map[string]dto.PeriodTotals)
	byYear := make(map[string]dto.PeriodTotals)

	for _, day := range history {
		if len(day.Date) < 10 {
			continue
		}

		month := byMonth[day.Date[:7]]
		month.TotalTokens += day.TotalTokens
		month.TotalRequests += day.TotalRequests
		byMonth[day.Date[:7]] = month

		year := byYear[day.Date[:4]]
		year.TotalTokens += day.TotalTokens
		year.TotalRequests += day.TotalRequests
		byYear[day.Date[:4]] = year
	}

	return dto.UsageAggregates{
		History: history,
		ByMonth: byMonth,
		ByYear:  byYear,
	}, nil
}

func SaveRestartEvent(event *domain.RestartEvent) error {
	return DB.Create(event).Error
}

func UpdateRestartEventOutcome(id uint, outcome string) error {
	return DB.Model(&domain.RestartEvent{}).
		Where("id = ?", id).
		Update("recovery_outcome", outcome).Error
}

func RecentRestartEvents(limit int) ([]domain.RestartEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	var events []domain.RestartEvent
	err := DB.Order("detected_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

func PruneRestartEvents(before time.Time) (int64, error) {
	result := DB.Where("detected_at < ?", before).Delete(&domain.RestartEvent{})
	return result.RowsAffected, result.Error
}
