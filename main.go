package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/SaschaKiebler/ankiBot/internal/anki"
	"github.com/SaschaKiebler/ankiBot/internal/api"
	"github.com/SaschaKiebler/ankiBot/internal/config"
	"github.com/SaschaKiebler/ankiBot/internal/parsing"
	"github.com/SaschaKiebler/ankiBot/internal/registry"
	"github.com/SaschaKiebler/ankiBot/internal/tools"
	"github.com/SaschaKiebler/ankiBot/internal/tools/parsepdf"

	// Import all tool packages to register them
	_ "github.com/SaschaKiebler/ankiBot/internal/imports"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Global resources that need cleanup. Atomics prevent races between signal
// handlers and normal shutdown.
var (
	debugLogFile atomic.Pointer[os.File]
	isStdioMode  atomic.Bool
)

// parseLogLevel reads the LOG_LEVEL environment variable, defaulting to
// WarnLevel when unset or invalid.
func parseLogLevel() logrus.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}

func main() {
	// Load a local .env file if present. Real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discard output until the transport mode is known: stdio transport must
	// never see log lines on stdout or stderr.
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	registry.Init(logger)

	defer performCleanup()

	app := &cli.Command{
		Name:    "ankibot",
		Usage:   "Study material server: PDF to Markdown parsing and Anki deck generation",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "transport",
				Aliases: []string{"t"},
				Value:   "stdio",
				Usage:   "Transport type (stdio, sse, or http)",
			},
			&cli.StringFlag{
				Name:  "port",
				Value: "18080",
				Usage: "Port to use for HTTP transports (SSE and Streamable HTTP)",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Value: "http://localhost",
				Usage: "Base URL for HTTP transports",
			},
			&cli.StringFlag{
				Name:  "endpoint-path",
				Value: "/mcp",
				Usage: "Endpoint path for Streamable HTTP transport",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to configuration file (default: ~/.ankibot/config.yaml)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("ankibot version %s\n", Version)
					fmt.Printf("Commit: %s\n", Commit)
					fmt.Printf("Built: %s\n", BuildDate)
					return nil
				},
			},
			{
				Name:  "tools",
				Usage: "List the registered tools",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					heading := color.New(color.FgCyan, color.Bold)
					_, _ = heading.Println("Registered tools:")
					for _, name := range registry.GetToolNames() {
						tool, _ := registry.GetTool(name)
						fmt.Printf("  %s\n", color.GreenString(name))
						if provider, ok := tool.(tools.ExtendedHelpProvider); ok {
							if help := provider.ProvideExtendedInfo(); help != nil && help.WhenToUse != "" {
								fmt.Printf("    %s\n", help.WhenToUse)
							}
						}
					}
					return nil
				},
			},
		},
		Action: func(cliCtx context.Context, cmd *cli.Command) error {
			transport := cmd.String("transport")
			port := cmd.String("port")
			baseURL := cmd.String("base-url")

			isStdioMode.Store(transport == "stdio")

			configureLogging(logger)

			settings, err := config.Load(logger, cmd.String("config"))
			if err != nil {
				return err
			}
			settings.Export()

			if transport != "stdio" {
				logger.Infof("Starting ankibot version %s (commit: %s, built: %s)",
					Version, Commit, BuildDate)
			}

			store := parsing.NewMemoryStore()
			driver := buildParsingDriver(logger, settings, store)

			logger.Debug("Creating MCP server")
			mcpSrv := mcpserver.NewMCPServer("ankibot", Version)

			registeredTools := registry.GetTools()
			logger.WithField("tool_count", len(registeredTools)).Debug("MCP server created, registering tools")

			for toolName, toolImpl := range registeredTools {
				name := toolName
				tool := toolImpl

				if transport != "stdio" {
					logger.Infof("Registering tool: %s", name)
				}

				mcpSrv.AddTool(tool.Definition(), func(toolCtx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					currentTool, ok := registry.GetTool(name)
					if !ok {
						return nil, fmt.Errorf("tool not found: %s", name)
					}

					args, ok := request.Params.Arguments.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("invalid arguments type: expected map[string]interface{}, got %T", request.Params.Arguments)
					}

					result, err := currentTool.Execute(toolCtx, registry.GetLogger(), registry.GetCache(), args)
					if err != nil {
						if transport != "stdio" {
							logger.WithError(err).Errorf("Tool execution failed: %s", name)
						}
						return nil, fmt.Errorf("tool execution failed: %w", err)
					}
					return result, nil
				})
			}

			logger.WithField("transport", transport).Debug("Starting server")
			switch transport {
			case "stdio":
				return mcpserver.ServeStdio(mcpSrv)
			case "sse":
				logger.WithField("port", port).Debug("Starting SSE server")
				sseServer := mcpserver.NewSSEServer(mcpSrv, mcpserver.WithBaseURL(baseURL+"/sse"))
				return sseServer.Start(":" + port)
			case "http":
				return startHTTPServer(cliCtx, cmd, mcpSrv, driver, store, logger)
			default:
				return fmt.Errorf("unsupported transport: %s", transport)
			}
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		// In stdio mode nothing may be written to stdout or stderr, it
		// would corrupt the protocol stream.
		if !isStdioMode.Load() {
			logger.Fatalf("Error: %v", err)
		}
		os.Exit(1)
	}
}

// configureLogging sends all log output to ~/.ankibot/logs/ankibot.log.
// File logging keeps the stdio transport clean; when the file cannot be
// opened, stdio mode discards logs and other modes fall back to stderr.
func configureLogging(logger *logrus.Logger) {
	fallback := func() {
		if isStdioMode.Load() {
			logger.SetOutput(io.Discard)
			logrus.SetOutput(io.Discard)
		} else {
			logger.SetOutput(os.Stderr)
			logrus.SetOutput(os.Stderr)
		}
	}

	applyLevel := func() {
		logLevel := parseLogLevel()
		if isStdioMode.Load() && logLevel < logrus.WarnLevel {
			logLevel = logrus.WarnLevel
		}
		logger.SetLevel(logLevel)
		logrus.SetLevel(logLevel)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fallback()
		applyLevel()
		return
	}

	logDir := filepath.Join(homeDir, ".ankibot", "logs")
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fallback()
		applyLevel()
		return
	}

	logFile := filepath.Join(logDir, "ankibot.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fallback()
		applyLevel()
		return
	}

	debugLogFile.Store(file)
	logger.SetOutput(file)
	logrus.SetOutput(file)
	applyLevel()
	logger.WithField("level", logger.GetLevel().String()).Debug("Logging configured")
}

// buildParsingDriver wires the PDF pipeline when the vision model is
// configured. Without it the parse_pdf tool and the upload endpoint report
// the pipeline as unavailable instead of failing every job.
func buildParsingDriver(logger *logrus.Logger, settings *config.Settings, store parsing.Store) *parsing.Driver {
	if !parsing.IsVisionConfigured() {
		logger.Warn("Vision model not configured, PDF parsing disabled")
		return nil
	}

	extractor, err := parsing.NewVisionClient(logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to create vision client, PDF parsing disabled")
		return nil
	}

	rasterizer := parsing.NewFitzRasterizer(logger)
	rasterizer.DPI = float64(settings.Parsing.DPI)

	pipeline := parsing.NewPipeline(extractor, logger)
	pipeline.MaxConcurrency = settings.Parsing.MaxConcurrency

	driver := parsing.NewDriver(store, rasterizer, pipeline, logger)
	parsepdf.Configure(driver, store)

	logger.WithFields(logrus.Fields{
		"dpi":         settings.Parsing.DPI,
		"concurrency": settings.Parsing.MaxConcurrency,
	}).Debug("PDF parsing pipeline ready")
	return driver
}

// startHTTPServer serves the Streamable HTTP MCP endpoint and the REST API
// from one listener, with graceful shutdown.
func startHTTPServer(ctx context.Context, cmd *cli.Command, mcpSrv *mcpserver.MCPServer, driver *parsing.Driver, store parsing.Store, logger *logrus.Logger) error {
	port := cmd.String("port")
	endpointPath := cmd.String("endpoint-path")

	logger.Infof("Starting HTTP server on port %s with MCP endpoint %s", port, endpointPath)

	httpServer := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath(endpointPath),
	)

	mux := http.NewServeMux()
	mux.Handle(endpointPath, httpServer)

	api.NewServer(driver, store, &anki.PackageEncoder{}, logger).Register(mux)
	if driver == nil {
		logger.Warn("Vision model not configured, uploads will be rejected")
	}

	server := &http.Server{
		Addr:           ":" + port,
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case serverErr <- err:
			case <-ctx.Done():
			}
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
	}

	// Let in-flight parsing jobs reach a terminal state before exiting.
	if driver != nil {
		driver.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
		return err
	}

	logger.Info("HTTP server stopped gracefully")
	return nil
}

// performCleanup closes resources on shutdown.
func performCleanup() {
	if file := debugLogFile.Load(); file != nil {
		_ = file.Close()
	}
}
