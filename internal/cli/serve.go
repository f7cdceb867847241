package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccproxy-go/ccproxy/internal/adapter"
	"github.com/ccproxy-go/ccproxy/internal/auth"
	"github.com/ccproxy-go/ccproxy/internal/config"
	"github.com/ccproxy-go/ccproxy/internal/credentials"
	"github.com/ccproxy-go/ccproxy/internal/hooks"
	"github.com/ccproxy-go/ccproxy/internal/oauth"
	"github.com/ccproxy-go/ccproxy/internal/plugin"
	"github.com/ccproxy-go/ccproxy/internal/router"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newServeCmd() *cobra.Command {
	var (
		host           string
		port           int
		reload         bool
		logLevel       string
		logFile        string
		authToken      string
		configPath     string
		enablePlugins  []string
		disablePlugins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return exitError("loading config: %w", err)
			}

			// Flags override file/env config, the same precedence order
			// the teacher's CLI layer documents for its own --port flag.
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Server.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-file") {
				cfg.Server.LogFile = logFile
			}
			if cmd.Flags().Changed("auth-token") {
				cfg.Auth.Token = authToken
			}
			if len(enablePlugins) > 0 {
				cfg.Plugins.Enabled = append(cfg.Plugins.Enabled, enablePlugins...)
			}
			if len(disablePlugins) > 0 {
				cfg.Plugins.Disabled = append(cfg.Plugins.Disabled, disablePlugins...)
			}
			_ = reload // file-watch reload is a dev convenience the gateway's data plane does not depend on

			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host")
	cmd.Flags().IntVar(&port, "port", 0, "listen port")
	cmd.Flags().BoolVar(&reload, "reload", false, "accepted for CLI compatibility; has no effect (no file watching or restart)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level")
	cmd.Flags().StringVar(&logFile, "log-file", "", "log file path")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "require this bearer token on incoming requests")
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "config file path")
	cmd.Flags().StringArrayVar(&enablePlugins, "enable-plugin", nil, "force-enable a plugin by name")
	cmd.Flags().StringArrayVar(&disablePlugins, "disable-plugin", nil, "force-disable a plugin by name")

	return cmd
}

func runServe(cfg *config.Config) error {
	bus := hooks.NewBus()

	rawLog := hooks.NewRawHTTPLogger()
	if cfg.Hooks.RawHTTPLog.Enabled {
		rawLog.Enabled = true
	}
	if cfg.Hooks.RawHTTPLog.Dir != "" && os.Getenv("CCPROXY_RAW_LOG_DIR") == "" {
		rawLog.Dir = cfg.Hooks.RawHTTPLog.Dir
	}
	if cfg.Hooks.RawHTTPLog.MaxBodyBytes > 0 {
		rawLog.MaxBodyBytes = cfg.Hooks.RawHTTPLog.MaxBodyBytes
	}
	if rawLog.Enabled {
		os.MkdirAll(rawLog.Dir, 0700)
	}
	bus.Subscribe(hooks.HTTPRequest, hooks.PriorityObservability, rawLog)
	bus.Subscribe(hooks.HTTPResponse, hooks.PriorityObservability, rawLog)

	metrics := hooks.NewMetricsSubscriber(prometheus.DefaultRegisterer)
	bus.Subscribe(hooks.RequestCompleted, hooks.PriorityObservability, metrics)
	bus.Subscribe(hooks.RequestFailed, hooks.PriorityObservability, metrics)

	client := &http.Client{Timeout: cfg.Server.RequestTimeout}

	bindings, err := buildBindings(cfg, client)
	if err != nil {
		return exitError("building provider bindings: %w", err)
	}

	authPolicy := &auth.ServerPolicy{StaticToken: cfg.Auth.Token}
	rt := router.New(bus, client, bindings, authPolicy)

	// No plugins are registered at compile time: discovery/loading is the
	// out-of-scope half of the plugin contract (spec.md §1). The host still
	// drives the lifecycle so a future build that does register plugins
	// needs no changes here.
	host := plugin.NewHost()
	if err := host.InitializeAll(context.Background(), pluginContext(cfg, bus, client)); err != nil {
		return exitError("initializing plugins: %w", err)
	}
	defer host.ShutdownAll(context.Background())

	middleware := host.Middleware()
	var handler http.Handler = rt
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i].Middleware(handler)
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	for _, route := range host.Routes() {
		mux.HandleFunc(route.Pattern, route.Handler)
	}
	if cfg.Hooks.MetricsAddr != "" {
		go serveMetrics(cfg.Hooks.MetricsAddr)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("ccproxy listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		return exitError("server error: %w", err)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("ccproxy metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server error: %v", err)
	}
}

// buildBindings resolves every configured provider into a router.Binding,
// the way the teacher's main.go resolves each config provider entry into a
// provider.Provider via its constructors map.
func buildBindings(cfg *config.Config, client *http.Client) (map[string]*router.Binding, error) {
	bindings := make(map[string]*router.Binding, len(cfg.Providers))

	for name, pc := range cfg.Providers {
		var a *adapter.Adapter
		var mgr auth.Manager

		switch pc.Kind {
		case "anthropic":
			if pc.APIKey != "" {
				a = adapter.AnthropicAPIMinimal(pc.BaseURL)
				mgr = &auth.BearerAuth{Token: pc.APIKey, Provider: string(adapter.ProviderAnthropicAPI)}
			} else {
				a = adapter.AnthropicAPI(pc.BaseURL)
				store := credentials.NewStore(credentials.ProviderAnthropic, pc.CredentialFile)
				engine := oauth.NewEngine(oauth.DefaultClaudeSpec, store, client)
				mgr = &auth.OAuthAuth{Provider: string(adapter.ProviderAnthropicAPI), Engine: engine}
			}
		case "openai":
			a = adapter.OpenAI(pc.BaseURL)
			mgr = &auth.BearerAuth{Token: pc.APIKey, Provider: string(adapter.ProviderOpenAI)}
		case "github-copilot":
			a = adapter.GitHubCopilot(pc.BaseURL)
			store := credentials.NewStore(credentials.ProviderCopilot, pc.CredentialFile)
			engine := oauth.NewEngine(oauth.ProviderSpec{}, store, client)
			mgr = &auth.OAuthAuth{Provider: string(adapter.ProviderGitHubCopilot), Engine: engine}
		case "claude-code-cli":
			a = adapter.ClaudeCodeCLI(pc.BaseURL)
			store := credentials.NewStore(credentials.ProviderAnthropic, pc.CredentialFile)
			engine := oauth.NewEngine(oauth.DefaultClaudeSpec, store, client)
			mgr = &auth.OAuthAuth{Provider: string(adapter.ProviderClaudeCodeCLI), Engine: engine}
		default:
			return nil, fmt.Errorf("unknown provider kind %q for provider %q", pc.Kind, name)
		}

		switch pc.HeaderMode {
		case "minimal":
			a.HeaderMode = adapter.HeaderModeMinimal
		case "passthrough":
			a.HeaderMode = adapter.HeaderModePassthrough
		}

		bindings[string(a.Provider)] = &router.Binding{Adapter: a, Auth: mgr}
	}

	return bindings, nil
}

func pluginContext(cfg *config.Config, bus *hooks.Bus, client *http.Client) plugin.Context {
	return plugin.Context{
		Settings:   map[string]any{"plugins_enabled": cfg.Plugins.Enabled, "plugins_disabled": cfg.Plugins.Disabled},
		HTTPClient: client,
		Bus:        bus,
	}
}
