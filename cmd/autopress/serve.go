package main

import (
	"context"
	"log"

	"github.com/autopress/autopress/config"
	"github.com/autopress/autopress/internal/generator"
	"github.com/autopress/autopress/internal/media"
	"github.com/autopress/autopress/internal/mutator"
	"github.com/autopress/autopress/internal/pipeline"
	"github.com/autopress/autopress/internal/publish"
	"github.com/autopress/autopress/internal/research"
	"github.com/autopress/autopress/internal/server"
	"github.com/autopress/autopress/internal/store"
	"github.com/autopress/autopress/internal/telemetry"
	"github.com/autopress/autopress/provider/openai"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the article pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx := context.Background()
			st, err := store.New(ctx, cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			defer st.Close()

			tele := telemetry.New()

			collector, err := research.NewCollector(cfg.Research,
				log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags), tele)
			if err != nil {
				return err
			}
			gen := generator.New(cfg.Generation, openai.NewClient(cfg.Generation),
				log.New(log.Writer(), "[GEN] ", log.LstdFlags))
			mediaSvc := media.NewService(cfg.Media,
				log.New(log.Writer(), "[MEDIA] ", log.LstdFlags))
			mut := mutator.New(cfg.Mutator,
				log.New(log.Writer(), "[MUTATE] ", log.LstdFlags))
			pub := publish.NewWordPress(cfg.Publish,
				log.New(log.Writer(), "[PUBLISH] ", log.LstdFlags))

			orch := pipeline.NewOrchestrator(cfg.Pipeline, st, collector, gen, mediaSvc, mut, pub,
				log.New(log.Writer(), "[ORCH] ", log.LstdFlags), tele)

			var rdb *redis.Client
			if cfg.Storage.Redis.Addr != "" {
				rdb = redis.NewClient(&redis.Options{
					Addr:     cfg.Storage.Redis.Addr,
					Password: cfg.Storage.Redis.Password,
					DB:       cfg.Storage.Redis.DB,
				})
				defer rdb.Close()
			}
			sched := pipeline.NewScheduler(cfg.Scheduler, st, orch, rdb,
				log.New(log.Writer(), "[SCHED] ", log.LstdFlags))
			sched.Start()
			defer sched.Stop()

			return server.New(cfg.Server, orch, st, tele, nil).Run()
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return serve
}
