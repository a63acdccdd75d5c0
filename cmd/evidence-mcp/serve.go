// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/httpapi"
	"github.com/gemaraproj/evidence-mcp/internal/tool"
)

const shutdownTimeout = 10 * time.Second

var (
	serveHTTPAddr string
	httpAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over stdio, or streamable HTTP with --http",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Serve the REST API and /metrics",
	Args:  cobra.NoArgs,
	RunE:  runHTTP,
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "Serve MCP over streamable HTTP on this address instead of stdio")
	httpCmd.Flags().StringVar(&httpAddr, "addr", "", "Listen address (overrides http.addr)")
}

func newMCPServer(a *app) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "evidence-mcp", Version: version}, nil)
	tool.New(a.svc, a.loaders, a.locator).Register(server)
	return server
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := newMCPServer(a)
	if serveHTTPAddr == "" {
		logger.Info("serving MCP over stdio")
		return server.Run(ctx, &mcp.StdioTransport{})
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil))
	mux.Handle("/metrics", a.metrics.Handler())
	logger.Info("serving MCP over streamable HTTP", zap.String("addr", serveHTTPAddr))
	return listen(ctx, &http.Server{Addr: serveHTTPAddr, Handler: mux})
}

func runHTTP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	addr := httpAddr
	if addr == "" {
		addr = cfg.HTTP.Addr
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.NewHandlers(a.svc, a.metrics, logger))
	logger.Info("serving HTTP API", zap.String("addr", addr))
	return listen(ctx, &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second})
}

// listen serves until ctx is cancelled, then shuts down gracefully.
func listen(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
