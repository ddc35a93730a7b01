package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feishu_article_studio/config"
	"feishu_article_studio/generator"
	"feishu_article_studio/logger"
	"feishu_article_studio/publisher"
	"feishu_article_studio/server"
)

const rootLongDesc string = `Generate and refine articles from Feishu documents with a pluggable LLM
backend, then write the result back as document blocks.

Settings come from an optional TOML file, a .env file and the environment
(AI_PROVIDER, <NAME>_API_KEY, FEISHU_APP_ID, ...).`

type rootFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "studio",
		Short:         "Feishu article studio",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to config.toml")
	cmd.PersistentFlags().BoolVarP(&flags.debug, "verbose", "v", false, "enable debug logs")

	cmd.AddCommand(
		newServeCmd(flags),
		newCompileCmd(),
		newPublishCmd(flags),
		newBackendsCmd(flags),
	)
	return cmd
}

// load reads configuration and builds the logger it asks for.
func (f *rootFlags) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Debug || f.debug), nil
}

type serveCommander struct {
	root *rootFlags
	addr string
}

func newServeCmd(root *rootFlags) *cobra.Command {
	cmder := &serveCommander{root: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&cmder.addr, "addr", "", "listen address (overrides server.addr / PORT)")
	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	cfg, log, err := c.root.load()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	editor, err := buildEditor(cfg, log)
	if err != nil {
		return err
	}
	client, err := buildFeishuClient(cfg, log)
	if err != nil {
		return err
	}

	srv, err := server.New(editor, func(bearer string) server.DocumentService {
		return client.WithToken(bearer)
	}, server.Options{
		FrontendURL: cfg.Server.FrontendURL,
		Batch:       cfg.BatchOptions(),
	}, log)
	if err != nil {
		return err
	}

	listen := cfg.Server.Addr
	if c.addr != "" {
		listen = c.addr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	return srv.Listen(listen)
}

// buildEditor wires the configured backend into a session editor.
func buildEditor(cfg *config.Config, log *zap.Logger) (*generator.Editor, error) {
	settings := cfg.Settings(cfg.Provider)
	backend, err := generator.NewRegistry().Select(cfg.Provider, settings)
	if err != nil {
		return nil, fmt.Errorf("select backend %q: %w", cfg.Provider, err)
	}
	log.Info("backend selected",
		zap.String("backend", backend.Name()),
		zap.Stringer("capabilities", backend.Capabilities()),
		zap.Duration("timeout", settings.Timeout))

	agent, err := generator.NewAgent(backend, log)
	if err != nil {
		return nil, err
	}
	return generator.NewEditor(agent, generator.NewMemoryStore(), settings.Timeout, log)
}

// buildFeishuClient returns a client that uses the app's tenant token when app
// credentials are configured; otherwise only caller tokens work.
func buildFeishuClient(cfg *config.Config, log *zap.Logger) (*publisher.Client, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	if cfg.Feishu.AppID == "" {
		log.Warn("FEISHU_APP_ID not set; document calls require a caller bearer token")
		return publisher.NewClient(cfg.Feishu.BaseURL, httpClient, nil, log), nil
	}
	tokens, err := publisher.NewTenantTokenSource(cfg.Feishu.BaseURL, httpClient, cfg.Feishu.AppID, cfg.Feishu.AppSecret)
	if err != nil {
		return nil, err
	}
	return publisher.NewClient(cfg.Feishu.BaseURL, httpClient, tokens, log), nil
}

type backendsCommander struct {
	root *rootFlags
}

func newBackendsCmd(root *rootFlags) *cobra.Command {
	cmder := &backendsCommander{root: root}
	return &cobra.Command{
		Use:   "backends",
		Short: "List generation backends and whether they are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}
}

func (c *backendsCommander) run(cmd *cobra.Command) error {
	cfg, err := config.Load(c.root.configPath)
	if err != nil {
		return err
	}
	registry := generator.NewRegistry()
	active, _ := registry.Canonical(cfg.Provider)

	out := cmd.OutOrStdout()
	for _, name := range registry.Names() {
		marker := " "
		if name == active {
			marker = "*"
		}
		b, err := registry.Select(name, cfg.Settings(name))
		switch {
		case errors.Is(err, generator.ErrMisconfiguredBackend):
			fmt.Fprintf(out, "%s %-9s not configured (%v)\n", marker, name, err)
		case err != nil:
			fmt.Fprintf(out, "%s %-9s error: %v\n", marker, name, err)
		default:
			fmt.Fprintf(out, "%s %-9s %s\n", marker, name, b.Capabilities())
		}
	}
	return nil
}
