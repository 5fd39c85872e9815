package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orion-hub/orion-memory-go/pkg/api"
	"github.com/orion-hub/orion-memory-go/pkg/indexer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory HTTP API",
		Long:  "Serve POST /api/memory/add, /api/memory/search and /api/memory/initialize plus GET /health.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().StringP("addr", "a", ":8080", "Listen address")
	cmd.Flags().String("watch", "", "Also index and watch this directory")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	watchDir, _ := cmd.Flags().GetString("watch")

	client, err := openClient()
	if err != nil {
		return err
	}
	defer closeClient(client)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Initialize(ctx); err != nil {
		return err
	}

	if watchDir != "" {
		ix := indexer.New(client)
		if _, err := ix.IndexDirectory(ctx, watchDir); err != nil {
			return err
		}
		events, err := ix.Watch(ctx, watchDir)
		if err != nil {
			return err
		}
		go func() {
			for range events {
			}
		}()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(client),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[CLI] Memory API listening on %s", addr)
		log.Printf("[CLI] Health check available at %s/health", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("[CLI] Shutting down memory API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
