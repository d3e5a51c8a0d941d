package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/picatz/dohclient/pkg/bridge"
	"github.com/spf13/cobra"
)

var CommandServe = &cobra.Command{
	Use:   "serve [flags]",
	Short: "Serve bridge calls over HTTP",
	Long: `Serve bridge calls over HTTP, for hosts that cannot link the Go package directly.

	POST /v1/{call}     JSON arguments in, JSON result map out
	GET  /v1/providers  the supported providers

Unknown calls are answered with 501 Not Implemented.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := bridge.New(log, clientOptions()...)
		defer b.Close()

		srv := &http.Server{
			Addr:              config.GetString("listen"),
			Handler:           b.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errs := make(chan error, 1)

		go func() {
			log.WithField("addr", srv.Addr).Info("serving bridge")
			errs <- srv.ListenAndServe()
		}()

		select {
		case err := <-errs:
			return fmt.Errorf("server failed: %w", err)
		case <-cmd.Context().Done():
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration("shutdown-timeout"))
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		return nil
	},
}

func init() {
	CommandServe.Flags().String("listen", "127.0.0.1:8053", "address to listen on")
	CommandServe.Flags().Duration("shutdown-timeout", 5*time.Second, "time allowed for in-flight calls on shutdown")

	if err := config.BindPFlags(CommandServe.Flags()); err != nil {
		panic(err)
	}

	CommandRoot.AddCommand(CommandServe)
}
