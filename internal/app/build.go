package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/antoniostano/acolyte/internal/avatar"
	"github.com/antoniostano/acolyte/internal/config"
	"github.com/antoniostano/acolyte/internal/credential"
	"github.com/antoniostano/acolyte/internal/enrich"
	"github.com/antoniostano/acolyte/internal/httpapi"
	"github.com/antoniostano/acolyte/internal/liveness"
	"github.com/antoniostano/acolyte/internal/observability"
	"github.com/antoniostano/acolyte/internal/session"
	"github.com/antoniostano/acolyte/internal/signaling"
	"github.com/antoniostano/acolyte/internal/webrtcpeer"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Session     *session.Controller
	Avatar      *avatar.Bridge
	Supervisors []*liveness.Supervisor
	Metrics     *observability.Metrics
	// UserID identifies this console instance to the context service.
	UserID string

	// Cleanup should be called on shutdown to release external resources (DB, peer connections).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	credentials, err := credential.NewStore(ctx, cfg.DatabaseURL, cfg.CredentialName, cfg.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("credential store init failed: %w", err)
	}

	signaler := signaling.New(signaling.Config{
		RealtimeURL: cfg.RealtimeURL,
		Model:       cfg.RealtimeModel,
		ModelsURL:   cfg.ModelsURL,
		Timeout:     cfg.SignalingTimeout,
		Logger:      logger,
	})

	userID := uuid.NewString()
	var enricher session.Enricher
	if strings.TrimSpace(cfg.ContextURL) != "" {
		enricher = enrich.NewHTTPEnricher(cfg.ContextURL, userID)
		logger.Info("context enrichment enabled", slog.String("url", cfg.ContextURL))
	}

	controller := session.NewController(session.Config{
		ChannelLabel:   cfg.ChannelLabel,
		WelcomeMessage: cfg.WelcomeMessage,
		Instructions:   cfg.Instructions,
		EventLogLimit:  cfg.EventLogLimit,
	}, session.Deps{
		Peers:       webrtcpeer.NewFactory(cfg.ICEServers, logger),
		Media:       webrtcpeer.SilenceSource{StreamID: "acolyte"},
		Signaler:    signaler,
		Credentials: credentials,
		Enricher:    enricher,
		Metrics:     metrics,
		Logger:      logger,
	})

	result := &BuildResult{
		Config:  cfg,
		Session: controller,
		Metrics: metrics,
		UserID:  userID,
	}

	deps := httpapi.Deps{
		Session:     controller,
		Credentials: credentials,
		Probe:       signaler,
		Metrics:     metrics,
		Logger:      logger,
	}

	if cfg.AvatarMode == config.AvatarModeMock {
		bridge := avatar.NewBridge(avatar.Config{
			RevealDelay: cfg.AvatarRevealDelay,
			Metrics:     metrics,
			Logger:      logger,
		}, nil, func(cb avatar.Callbacks) avatar.Agent {
			return avatar.NewMockAgent(cb, nil)
		})
		result.Avatar = bridge
		deps.Avatar = bridge
		logger.Info("avatar collaborator: mock")
	}

	if cfg.LivenessEnabled {
		result.Supervisors = append(result.Supervisors,
			newSupervisor(cfg, "session", controller.Activity(), controller, metrics, logger))
		if result.Avatar != nil {
			result.Supervisors = append(result.Supervisors,
				newSupervisor(cfg, "avatar", result.Avatar.Activity(), result.Avatar, metrics, logger))
		}
	}

	result.API = httpapi.New(cfg, deps)

	result.Cleanup = func() error {
		var errs []string
		for _, s := range result.Supervisors {
			s.Stop()
		}
		controller.Stop()
		if result.Avatar != nil {
			if err := result.Avatar.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := credentials.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return result, nil
}

func newSupervisor(cfg config.Config, name string, activity *liveness.Activity, target liveness.Target, metrics *observability.Metrics, logger *slog.Logger) *liveness.Supervisor {
	return liveness.NewSupervisor(liveness.Config{
		Name:          name,
		PollInterval:  cfg.PollInterval,
		IdleThreshold: cfg.IdleThreshold,
		OnReconnect: func(error) {
			metrics.IdleReconnect(name)
		},
		Logger: logger,
	}, activity, target)
}
