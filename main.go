package main

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/poco/assets"
	"github.com/robalobadob/poco/internal/config"
	"github.com/robalobadob/poco/internal/gemini"
	"github.com/robalobadob/poco/internal/httpserver"
	"github.com/robalobadob/poco/internal/i18n"
	"github.com/robalobadob/poco/internal/metrics"
	"github.com/robalobadob/poco/internal/prompts"
	"github.com/robalobadob/poco/internal/store"
	"github.com/robalobadob/poco/internal/usage"
	"github.com/robalobadob/poco/internal/weather"
)

func main() {
	cfg := config.Load()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer db.Close()
	if err := migrate(db, assets.Migrations()); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	catalog, err := i18n.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load locale catalogs")
	}
	ps, err := prompts.Load(cfg.PromptsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.PromptsDir).Msg("failed to load prompts")
	}

	if cfg.GeminiAPIKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY is required")
	}
	gc, err := gemini.New(context.Background(), cfg.GeminiAPIKey, gemini.Models{
		Analysis: cfg.GeminiAnalysisModel,
		Default:  cfg.GeminiModel,
		Image:    cfg.GeminiImageModel,
	}, ps, func(locale string) string { return catalog.For(locale).LanguageName() })
	if err != nil {
		log.Fatal().Err(err).Msg("gemini client")
	}
	defer gc.Close()

	us, err := usageStore(cfg, db)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.UsageBackend).Msg("usage store")
	}

	sessions := store.NewMemoryStore()
	metrics.SetSessionSource(sessions.Len)
	janitor, err := store.NewJanitor(sessions, cfg.SessionIdleTTL, cfg.SessionSweepSpec)
	if err != nil {
		log.Fatal().Err(err).Str("spec", cfg.SessionSweepSpec).Msg("session janitor")
	}
	janitor.Start()
	defer janitor.Stop()

	srv := httpserver.New(httpserver.Deps{
		Config:   cfg,
		Sessions: sessions,
		Provider: usage.NewMeter(gc, us),
		DB:       db,
		Catalog:  catalog,
		Weather:  weather.New(cfg.WeatherBaseURL),
		Usage:    us,
	})
	log.Info().Str("port", cfg.Port).Strs("locales", catalog.Languages()).Msg("starting poco server")
	if err := srv.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// usageStore picks the metering backend named by USAGE_BACKEND.
func usageStore(cfg config.Config, db *sql.DB) (usage.Store, error) {
	if cfg.UsageBackend == "supabase" {
		return usage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey)
	}
	return usage.NewSQLStore(db), nil
}
