package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/notifier"
)

// buildRegistry creates an adapter for every enabled channel, wrapping it in
// a send throttle when one is configured.
func buildRegistry(ctx context.Context, cfg ChannelsConfig, logger zerolog.Logger) (*notifier.Registry, error) {
	registry := notifier.NewRegistry()

	register := func(a notifier.Adapter, throttle ThrottleConfig) error {
		if throttle.MaxPerMinute > 0 {
			a = notifier.Throttle(a, throttle.RateLimit())
		}
		if err := registry.Register(a); err != nil {
			return err
		}
		logger.Info().Str("channel", string(a.Channel())).Int("max_per_minute", throttle.MaxPerMinute).Msg("channel enabled")
		return nil
	}
	fail := func(err error) (*notifier.Registry, error) {
		registry.Close()
		return nil, err
	}

	if cfg.Email.Enabled {
		provider, err := emailProvider(ctx, cfg.Email)
		if err != nil {
			return fail(err)
		}
		adapter, err := notifier.NewEmailAdapter(provider, cfg.Email.From, cfg.Email.Timeout)
		if err != nil {
			return fail(fmt.Errorf("email: %w", err))
		}
		if err := register(adapter, cfg.Email.Throttle); err != nil {
			return fail(err)
		}
	}

	if cfg.SMS.Enabled {
		adapter, err := notifier.NewSMSAdapter(notifier.SMSConfig{
			BaseURL:           cfg.SMS.BaseURL,
			AccountSID:        cfg.SMS.AccountSID,
			AuthToken:         cfg.SMS.AuthToken,
			From:              cfg.SMS.From,
			RequestsPerSecond: cfg.SMS.RequestsPerSecond,
			Timeout:           cfg.SMS.Timeout,
		})
		if err != nil {
			return fail(err)
		}
		if err := register(adapter, cfg.SMS.Throttle); err != nil {
			return fail(err)
		}
	}

	if cfg.Push.Enabled {
		adapter, err := notifier.NewPushAdapter(notifier.PushConfig{
			URL:       cfg.Push.URL,
			ServerKey: cfg.Push.ServerKey,
			Timeout:   cfg.Push.Timeout,
		})
		if err != nil {
			return fail(err)
		}
		if err := register(adapter, cfg.Push.Throttle); err != nil {
			return fail(err)
		}
	}

	if cfg.InApp.Enabled {
		adapter, err := notifier.NewInAppAdapter(notifier.InAppConfig{
			URL:           cfg.InApp.NATSURL,
			SubjectPrefix: cfg.InApp.SubjectPrefix,
			Timeout:       cfg.InApp.Timeout,
		})
		if err != nil {
			return fail(err)
		}
		if err := register(adapter, ThrottleConfig{}); err != nil {
			return fail(err)
		}
	}

	if cfg.Webhook.Enabled {
		adapter := notifier.NewWebhookAdapter(notifier.WebhookConfig{
			Secret:      cfg.Webhook.Secret,
			BearerToken: cfg.Webhook.BearerToken,
			AllowHTTP:   cfg.Webhook.AllowHTTP,
			Timeout:     cfg.Webhook.Timeout,
		})
		if err := register(adapter, cfg.Webhook.Throttle); err != nil {
			return fail(err)
		}
	}

	if len(registry.Channels()) == 0 {
		logger.Warn().Msg("no notification channels enabled; deliveries will be skipped")
	}
	return registry, nil
}

func emailProvider(ctx context.Context, cfg EmailConfig) (notifier.EmailProvider, error) {
	switch cfg.Provider {
	case "ses":
		return notifier.NewSESProvider(ctx, cfg.SESRegion)
	case "resend":
		return notifier.NewResendProvider(cfg.ResendAPIKey)
	default:
		return notifier.NewSMTPProvider(notifier.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
	}
}
