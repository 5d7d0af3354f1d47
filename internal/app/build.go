package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/httpapi"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/redact"
	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/summarizer"
	"github.com/ent0n29/mnemo/internal/tokens"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Manager  *memory.Manager
	Sessions *session.Registry
	Breaker  *reliability.Breaker
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to flush writers and release
	// external resources (redis, DB).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	tier, err := memory.NewFastTier(ctx, memory.FastTierConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("fast tier init failed: %w", err)
	}

	var durable memory.DurableStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = tier.Close()
			return nil, fmt.Errorf("durable store init failed: %w", err)
		}
		durable = pg
	}

	breaker := reliability.NewBreaker(reliability.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		CallTimeout:      cfg.StoreCallTimeout,
		OnStateChange: func(from, to reliability.BreakerState) {
			log.Printf("fast tier breaker %s -> %s", from, to)
			metrics.SetBreakerState(string(to))
		},
	})

	counter := tokens.NewCounter(nil)
	buffer := memory.NewBufferStore(tier, breaker, counter, cfg.BufferTTL, metrics)
	summaries := memory.NewSummaryStore(tier, breaker, durable, memory.WriteMode(cfg.DurableWriteMode), cfg.SummaryRetention, metrics)

	sessions := session.NewRegistry(session.Config{
		SummaryTriggerTokens: cfg.SummaryTriggerTokens,
		MaxBufferTokens:      cfg.MaxBufferTokens,
		MaxBufferMessages:    cfg.MaxBufferMessages,
	}, cfg.SessionIdleRetention)
	sessions.OnSweep(func(active int) {
		metrics.ActiveSessions.Set(float64(active))
	})

	redactor := redact.New(redact.Config{
		Method:      redact.Method(cfg.PIIRedactionMethod),
		UseNER:      cfg.PIIUseNER,
		UseFallback: cfg.PIIUseFallback,
	})

	summ, err := summarizer.New(summarizer.Config{
		Mode:    cfg.SummarizerMode,
		HTTPURL: cfg.SummarizerHTTPURL,
	})
	if err != nil {
		_ = tier.Close()
		if durable != nil {
			_ = durable.Close()
		}
		return nil, fmt.Errorf("summarizer init failed: %w", err)
	}

	manager := memory.NewManager(buffer, summaries, sessions, summ, redactor, breaker, counter, metrics, memory.ManagerConfig{
		SummarizeTimeout: cfg.SummarizeTimeout,
		CompactAsync:     cfg.CompactAsync,
		RedactInbound:    cfg.PIIRedactInbound,
	})

	api := httpapi.New(cfg, manager, metrics)

	cleanup := func() error {
		var errs []string
		api.Close()
		if err := manager.Flush(); err != nil {
			errs = append(errs, err.Error())
		}
		if durable != nil {
			if err := durable.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := tier.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Manager:  manager,
		Sessions: sessions,
		Breaker:  breaker,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

// StartJanitor runs the idle-session sweeper until ctx is cancelled.
func (b *BuildResult) StartJanitor(ctx context.Context, interval time.Duration) {
	b.Sessions.StartJanitor(ctx, interval)
}
