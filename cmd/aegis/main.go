// Command aegis runs the content firewall: an HTTP service, a one-shot
// checker for local files, and a configuration validator.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TryMightyAI/aegis/pkg/audit"
	"github.com/TryMightyAI/aegis/pkg/config"
	"github.com/TryMightyAI/aegis/pkg/firewall"
	"github.com/TryMightyAI/aegis/pkg/server"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "aegis",
		Short:         "Content firewall for language-model traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCmd(&configPath), checkCmd(&configPath), validateCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "aegis:", err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the firewall HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // stderr sync is best-effort

			cfg, fw, sink, err := buildFirewall(*configPath, logger)
			if err != nil {
				return err
			}
			if sink != nil {
				defer sink.Close() //nolint:errcheck // closing on shutdown
			}

			logger.Info("starting", zap.String("addr", cfg.ListenAddr))
			return server.New(fw, logger).Listen(cfg.ListenAddr)
		},
	}
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check [file]",
		Short: "Evaluate a file (or stdin) and print the verdict as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text []byte
			var err error
			if len(args) == 1 {
				text, err = os.ReadFile(args[0])
			} else {
				text, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}

			_, fw, sink, err := buildFirewall(*configPath, zap.NewNop())
			if err != nil {
				return err
			}
			if sink != nil {
				defer sink.Close() //nolint:errcheck
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			verdict, err := fw.Evaluate(ctx, firewall.Request{Text: string(text)})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(verdict)
		},
	}
}

func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config, catalog, and policy files",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, sink, err := buildFirewall(*configPath, zap.NewNop())
			if err != nil {
				return err
			}
			if sink != nil {
				defer sink.Close() //nolint:errcheck
			}
			fmt.Println("configuration ok")
			return nil
		},
	}
}

// buildFirewall loads configuration, catalog, and policies, and wires the
// audit sinks and the extractor client.
func buildFirewall(configPath string, logger *zap.Logger) (*config.Config, *firewall.Firewall, audit.Sink, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	catalog := firewall.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = firewall.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if cfg.PolicyPath == "" {
		return nil, nil, nil, fmt.Errorf("policy_path is required")
	}
	policies, err := firewall.LoadPolicies(cfg.PolicyPath, catalog)
	if err != nil {
		return nil, nil, nil, err
	}

	var sinks audit.MultiSink
	if cfg.Audit.RedisAddr != "" {
		sinks = append(sinks, audit.NewRedisSink(cfg.Audit.RedisAddr, cfg.Audit.RedisStream))
	}
	if cfg.Audit.PostgresDSN != "" {
		pgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, pgErr := audit.NewPostgresSink(pgCtx, cfg.Audit.PostgresDSN)
		cancel()
		if pgErr != nil {
			return nil, nil, nil, pgErr
		}
		sinks = append(sinks, pg)
	}
	var sink audit.Sink
	if len(sinks) > 0 {
		sink = sinks
	}

	var extractor firewall.Extractor
	if cfg.ExtractorURL != "" {
		extractor = firewall.NewHTTPExtractor(cfg.ExtractorURL, time.Duration(cfg.ExtractorTimeoutMs)*time.Millisecond)
	}

	selector, err := firewall.NewExampleSelector(catalog, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	fw, err := firewall.New(catalog, policies, firewall.Options{
		SecretKey:                  []byte(cfg.SecretKey),
		DefaultConfidenceThreshold: cfg.DefaultConfidenceThreshold,
		ThrowOnDeny:                cfg.ThrowOnDeny,
		TokenFormat:                firewall.TokenFormat(cfg.TokenFormat),
		ExtractorTimeout:           time.Duration(cfg.ExtractorTimeoutMs) * time.Millisecond,
		MaskedValuesExempt:         cfg.MaskedValuesExempt,
		PublicRecordMarkers:        cfg.PublicRecordMarkers,
		Extractor:                  extractor,
		ExampleSelector:            selector,
		AuditSink:                  sink,
		Logger:                     logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, fw, sink, nil
}
