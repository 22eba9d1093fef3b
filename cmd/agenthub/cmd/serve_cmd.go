package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"agenthub/internal/agent"
	"agenthub/internal/agent/codex"
	"agenthub/internal/agent/mcptool"
	"agenthub/internal/config"
	"agenthub/internal/hub"
	"agenthub/internal/logging"
)

func NewServeCmd() *cobra.Command {
	var listen string
	var internalToken string
	var redisURL string
	var onlyAgentID string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := logging.FromContext(ctx)

			cfg, err := config.Load(config.LoadOptions{ConfigFile: GetConfigFileFlag()})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			agents := cfg.Agents
			if onlyAgentID != "" {
				agents = nil
				for _, a := range cfg.Agents {
					if a.ID == onlyAgentID {
						agents = []config.Agent{a}
						break
					}
				}
				if agents == nil {
					return fmt.Errorf("unknown agent id %q", onlyAgentID)
				}
			}

			adapters := make([]agent.Adapter, 0, len(agents))
			for _, a := range agents {
				adapter, err := buildAdapter(a, logger)
				if err != nil {
					return err
				}
				adapters = append(adapters, adapter)
			}
			registry, err := agent.NewRegistry(adapters...)
			if err != nil {
				return err
			}

			var redisClient *redis.Client
			url := firstNonEmpty(redisURL, cfg.Redis.URL)
			if url != "" {
				opt, err := redis.ParseURL(url)
				if err != nil {
					return err
				}
				redisClient = redis.NewClient(opt)
				logger.Info("redis event mirror enabled", "key_prefix", cfg.Redis.KeyPrefix)
			}

			h := hub.New(registry, hub.Options{
				Logger:         logger,
				Redis:          redisClient,
				RedisKeyPrefix: cfg.Redis.KeyPrefix,
			})
			server := hub.NewServer(h, hub.ServerOptions{
				ListenAddr:    firstNonEmpty(listen, cfg.Server.Listen),
				InternalToken: firstNonEmpty(internalToken, cfg.Server.InternalToken),
				Logger:        logger,
			})

			errCh := make(chan error, 2)
			go func() { errCh <- h.Run(ctx) }()
			go func() { errCh <- server.Run(ctx) }()

			select {
			case err := <-errCh:
				stop()
				<-errCh
				return err
			case <-ctx.Done():
				<-errCh
				<-errCh
				return nil
			}
		},
	}
	c.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	c.Flags().StringVar(&internalToken, "internal-token", "", "shared token for the HTTP API (overrides config)")
	c.Flags().StringVar(&redisURL, "redis-url", "", "redis URL for the event mirror (overrides config)")
	c.Flags().StringVar(&onlyAgentID, "agent", "", "run a single configured agent by id")
	return c
}

func buildAdapter(a config.Agent, logger logging.Logger) (agent.Adapter, error) {
	switch a.Kind {
	case "codex":
		return codex.New(codex.Options{
			ID:                 a.ID,
			Label:              a.Label,
			URL:                a.URL,
			Enabled:            a.Enabled,
			ProjectDirectories: a.ProjectDirectories,
			Logger:             logger,
		}), nil
	case "mcp":
		return mcptool.New(mcptool.Options{
			ID:                 a.ID,
			Label:              a.Label,
			Command:            a.Command,
			Args:               a.Args,
			Enabled:            a.Enabled,
			ProjectDirectories: a.ProjectDirectories,
			Logger:             logger,
		}), nil
	default:
		return nil, fmt.Errorf("agent %q: kind %q has no adapter", a.ID, a.Kind)
	}
}
