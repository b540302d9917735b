package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/coursecompass/internal/api"
	"github.com/coursecompass/internal/catalog"
	"github.com/coursecompass/internal/config"
	"github.com/coursecompass/internal/database"
	"github.com/coursecompass/internal/ledger"
	"github.com/coursecompass/internal/llm"
	"github.com/coursecompass/internal/recommend"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the CourseCompass API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			port := cfg.Server.Port
			if c.Int("port") != 0 {
				port = c.Int("port")
			}

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			ledgerStore := ledger.NewPostgresStore(db)
			if err := ledgerStore.EnsureSchema(ctx); err != nil {
				return err
			}
			catalogStore := catalog.NewPostgresStore(db)
			if err := catalogStore.EnsureSchema(ctx); err != nil {
				return err
			}

			client, err := llm.NewOpenAIClient(cfg.AI.APIKey, cfg.AI.BaseURL)
			if err != nil {
				return fmt.Errorf("failed to create completion client: %w", err)
			}
			if !client.Configured() {
				log.Warn().Msg("No completion API key configured; recommendation calls will be rejected")
			}

			guard := recommend.NewGuard(
				ledgerStore,
				cfg.Limits.WindowRequests,
				time.Duration(cfg.Limits.WindowSeconds)*time.Second,
				cfg.Limits.LifetimeCap,
			)
			defer guard.Stop()

			service := recommend.NewService(
				guard,
				llm.NewResilientClientWithDefaults(client),
				recommend.NewMatcher(catalogStore),
				ledgerStore,
				recommend.ModelSettings{
					Model:       cfg.AI.Model,
					Temperature: cfg.AI.Temperature,
					MaxTokens:   cfg.AI.MaxTokens,
				},
			)
			reporter := recommend.NewReporter(ledgerStore, cfg.Limits.LifetimeCap)

			fmt.Printf("Starting CourseCompass API server on port %d...\n", port)

			server := api.NewServer(port, api.Deps{
				Recommender: service,
				Reporter:    reporter,
				Catalog:     catalogStore,
				JWTSecret:   cfg.Auth.JWTSecret,
			})
			return server.Start()
		},
	}
}
