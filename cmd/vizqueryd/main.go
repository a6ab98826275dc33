package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/vizquery/vizquery/config"
	"github.com/vizquery/vizquery/internal/cache"
	"github.com/vizquery/vizquery/internal/llm"
	"github.com/vizquery/vizquery/internal/pipeline"
	srv "github.com/vizquery/vizquery/internal/server"
	"github.com/vizquery/vizquery/internal/stream"
)

func main() {
	var root = &cobra.Command{Use: "vizqueryd"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("VIZQUERY_HTTP_ADDR")
			}
			return srv.Run(serveAddr, configPath)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var askSource string
	var askMode string
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one analysis from the terminal and print the event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			provider, err := llm.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			engines, sources, err := srv.BuildEngines(cfg)
			if err != nil {
				return err
			}
			orch, err := pipeline.NewOrchestrator(cfg, pipeline.Deps{
				Logger:      log.New(os.Stderr, "[PIPE] ", log.LstdFlags),
				Provider:    provider,
				Engines:     engines,
				Sources:     sources,
				SchemaCache: cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.MaxPayloadBytes),
				QueryCache:  cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.MaxPayloadBytes),
			})
			if err != nil {
				return err
			}

			buf := stream.NewBuffer()
			orch.Run(context.Background(), pipeline.Request{
				Query:        args[0],
				DataSourceID: askSource,
				AnalysisMode: askMode,
			}, buf)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, ev := range buf.Events() {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	ask.Flags().StringVar(&askSource, "source", "postgres", "data source id")
	ask.Flags().StringVar(&askMode, "mode", "standard", "analysis mode (standard or deep)")

	root.AddCommand(serve, ask)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
