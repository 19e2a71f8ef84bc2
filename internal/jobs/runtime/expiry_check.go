package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"keyportal/internal/api/dto"
	"keyportal/internal/config"
	"keyportal/internal/upstream"
)

const expiryDetailConcurrency = 4

// CredentialSource lists contributed credentials and their details.
type CredentialSource interface {
	AuthFiles(ctx context.Context) ([]upstream.AuthFile, error)
	AuthFileDetail(ctx context.Context, path string) (*upstream.AuthFileDetail, error)
}

// Notifier delivers an expiry warning to a user.
type Notifier interface {
	Send(ctx context.Context, receiverEmail, title, content string) error
}

// Recipient resolves a credential email to the address notifications go to.
type Recipient interface {
	FeishuID(claudeEmail string) string
}

// ExpiryOptions controls one expiry scan.
type ExpiryOptions struct {
	WarningHours float64
	LoginURL     string
	Notify       bool
}

// ExpiryOptionsFromConfig builds scan options from the current settings.
func ExpiryOptionsFromConfig(notify bool) ExpiryOptions {
	cfg := config.GetConfig()
	return ExpiryOptions{
		WarningHours: float64(cfg.Keys.ExpireWarningHours),
		LoginURL:     cfg.Feishu.LoginURL,
		Notify:       notify,
	}
}

// CheckExpiry inspects every contributed credential and returns the ones
// expiring within the warning window. When Notify is set, each affected
// user gets a warning message. Detail lookups fan out concurrently since
// each one is a separate upstream round trip.
func CheckExpiry(ctx context.Context, source CredentialSource, notifier Notifier, recipients Recipient, opts ExpiryOptions) ([]dto.ExpiringKey, error) {
	files, err := source.AuthFiles(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var (
		mu       sync.Mutex
		expiring []dto.ExpiringKey
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(expiryDetailConcurrency)

	for _, file := range files {
		if !strings.HasSuffix(file.Name, ".json") {
			continue
		}

		group.Go(func() error {
			detail, err := source.AuthFileDetail(groupCtx, file.Path)
			if err != nil || detail == nil {
				log.Warn("Failed to read credential detail", "path", file.Path, "error", err)
				return nil
			}

			expiresAt := detail.ExpiryTimestamp()
			if expiresAt == "" {
				return nil
			}

			expiry, err := parseExpiry(expiresAt)
			if err != nil {
				log.Warn("Unparseable expiry timestamp", "path", file.Path, "value", expiresAt)
				return nil
			}

			hoursLeft := expiry.Sub(now).Hours()
			if hoursLeft <= 0 || hoursLeft > opts.WarningHours {
				return nil
			}

			email := credentialEmail(file.Name)

			mu.Lock()
			expiring = append(expiring, dto.ExpiringKey{
				Email:     email,
				HoursLeft: roundHours(hoursLeft),
				ExpiresAt: expiresAt,
			})
			mu.Unlock()

			if opts.Notify && notifier != nil {
				receiver := email
				if recipients != nil {
					receiver = recipients.FeishuID(email)
				}
				content := fmt.Sprintf(
					"**%s**'s key will expire in **%.1f hours**.\n\nPlease visit %s to re-authenticate.",
					email, hoursLeft, opts.LoginURL,
				)
				if err := notifier.Send(groupCtx, receiver, "Key Expiring Soon", content); err != nil {
					log.Warn("Failed to send expiry notification", "receiver", receiver, "error", err)
				} else {
					log.Info("Expiry warning sent", "email", email, "hours_left", roundHours(hoursLeft))
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return expiring, err
	}
	return expiring, nil
}

// credentialEmail derives the owner email from the auth file name. Files are
// named after the account email; anything else is unattributable.
func credentialEmail(name string) string {
	trimmed := strings.TrimSuffix(name, ".json")
	if strings.Contains(trimmed, "@") {
		return trimmed
	}
	return "Unknown"
}

func parseExpiry(value string) (time.Time, error) {
	normalized := strings.TrimSuffix(value, "Z")
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.Parse(layout, normalized); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry format %q", value)
}

func roundHours(hours float64) float64 {
	return float64(int(hours*10+0.5)) / 10
}
