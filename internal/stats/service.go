// Package stats serves user-facing usage views, combining live upstream
// counters with the persisted per-user history.
package stats

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"keyportal/internal/api/dto"
	"keyportal/internal/database"
	"keyportal/internal/keys"
	"keyportal/internal/upstream"
)

// UsageFetcher is the slice of the upstream client the service needs.
type UsageFetcher interface {
	Usage(ctx context.Context) (*upstream.UsageResponse, error)
}

// Service answers stats queries. Live usage is cached for a short TTL and
// concurrent refreshes are collapsed into one upstream call.
type Service struct {
	upstream UsageFetcher
	registry *keys.Registry
	ttl      time.Duration

	group singleflight.Group

	mu        sync.Mutex
	cached    *upstream.Usage
	fetchedAt time.Time
}

func NewService(fetcher UsageFetcher, registry *keys.Registry, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Service{upstream: fetcher, registry: registry, ttl: ttl}
}

// CachedUsage returns the live usage block, refreshing from upstream at most
// once per TTL window.
func (s *Service) CachedUsage(ctx context.Context) (*upstream.Usage, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.fetchedAt) < s.ttl {
		usage := s.cached
		s.mu.Unlock()
		return usage, nil
	}
	s.mu.Unlock()

	result, err, _ := s.group.Do("usage", func() (any, error) {
		resp, err := s.upstream.Usage(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cached = &resp.Usage
		s.fetchedAt = time.Now()
		s.mu.Unlock()

		return &resp.Usage, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*upstream.Usage), nil
}

// Invalidate drops the cached usage so the next query refetches.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// UserStats aggregates live counters across every key the user holds.
func (s *Service) UserStats(ctx context.Context, email string) (*dto.UserStats, error) {
	user, err := s.registry.UserByEmail(email)
	if err != nil {
		return nil, err
	}

	usage, err := s.CachedUsage(ctx)
	if err != nil {
		return nil, err
	}

	stats := &dto.UserStats{
		Email:    email,
		Name:     user.Name,
		KeyCount: len(user.APIKeys),
		Keys:     make([]dto.KeyInfo, 0, len(user.APIKeys)),
	}

	for _, apiKey := range user.APIKeys {
		keyUsage := usage.APIs[apiKey]
		label, createdAt := s.registry.KeyMeta(apiKey)

		stats.TotalRequests += keyUsage.TotalRequests
		stats.TotalTokens += keyUsage.TotalTokens

		models := make(map[string]any, len(keyUsage.Models))
		for model, modelUsage := range keyUsage.Models {
			models[model] = modelUsage
		}

		stats.Keys = append(stats.Keys, dto.KeyInfo{
			Key:           apiKey,
			Label:         label,
			CreatedAt:     createdAt,
			TotalRequests: keyUsage.TotalRequests,
			TotalTokens:   keyUsage.TotalTokens,
			Models:        models,
		})
	}

	return stats, nil
}

// AllUsersStats returns live stats for every registered user, heaviest token
// consumers first.
func (s *Service) AllUsersStats(ctx context.Context) ([]dto.UserStats, error) {
	users, err := s.registry.AllUsers()
	if err != nil {
		return nil, err
	}

	all := make([]dto.UserStats, 0, len(users))
	for email := range users {
		stats, err := s.UserStats(ctx, email)
		if err != nil {
			if errors.Is(err, keys.ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		all = append(all, *stats)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].TotalTokens > all[j].TotalTokens
	})
	return all, nil
}

// PeriodStats returns per-user usage aggregated by day, month or year from
// the persisted history, enriched with registry display names.
func (s *Service) PeriodStats(period string) ([]dto.PeriodUserStats, error) {
	rows, err := database.GetUserUsageByPeriod(period)
	if err != nil {
		return nil, err
	}

	users, err := s.registry.AllUsers()
	if err != nil {
		return nil, err
	}

	stats := make([]dto.PeriodUserStats, 0, len(rows))
	for _, row := range rows {
		name := row.UserEmail
		if user, ok := users[row.UserEmail]; ok && user.Name != "" {
			name = user.Name
		}

		stats = append(stats, dto.PeriodUserStats{
			Email:         row.UserEmail,
			Name:          name,
			Period:        row.Period,
			TotalRequests: row.TotalRequests,
			TotalTokens:   row.TotalTokens,
			KeyCount:      row.KeyCount,
		})
	}
	return stats, nil
}

// Summarize rolls a stats listing up into portal-wide totals.
func Summarize(stats []dto.UserStats) dto.UsageSummary {
	summary := dto.UsageSummary{}
	seen := map[string]bool{}

	for _, s := range stats {
		if !seen[s.Email] {
			seen[s.Email] = true
			summary.TotalUsers++
		}
		summary.TotalRequests += s.TotalRequests
		summary.TotalTokens += s.TotalTokens
		summary.TotalKeys += int64(s.KeyCount)
	}
	return summary
}

// SummarizePeriods is the per-period variant of Summarize.
func SummarizePeriods(stats []dto.PeriodUserStats) dto.UsageSummary {
	summary := dto.UsageSummary{}
	seen := map[string]bool{}

	for _, s := range stats {
		if !seen[s.Email] {
			seen[s.Email] = true
			summary.TotalUsers++
		}
		summary.TotalRequests += s.TotalRequests
		summary.TotalTokens += s.TotalTokens
		summary.TotalKeys += s.KeyCount
	}
	return summary
}
