package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type lookupResult struct {
	Host     string   `json:"host"`
	Provider string   `json:"provider"`
	Addrs    []string `json:"addrs,omitempty"`
	Error    string   `json:"error,omitempty"`
}

var CommandLookup = &cobra.Command{
	Use:   "lookup hosts... [flags]",
	Short: "Resolve host names through the DoH provider",
	Long: `Resolve host names exactly like requests do, through the selected DoH provider only.

Each host is resolved in parallel, with at most --lock lookups in flight. Results are
streamed to STDOUT as JSON newline delimited objects.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lock, err := cmd.Flags().GetInt64("lock")
		if err != nil {
			return fmt.Errorf("invalid lock: %w", err)
		}

		client := newClient()
		defer client.CloseIdleConnections()

		resolver := client.Resolver()
		sem := semaphore.NewWeighted(max(lock, 1))

		var (
			output = json.NewEncoder(cmd.OutOrStdout())
			mu     sync.Mutex
		)

		eg, ctx := errgroup.WithContext(cmd.Context())

		for _, arg := range args {
			eg.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				result := &lookupResult{
					Host:     arg,
					Provider: client.Provider().Name,
				}

				addrs, err := resolver.LookupNetIP(ctx, arg)
				if err != nil {
					result.Error = err.Error()
				}

				for _, addr := range addrs {
					result.Addrs = append(result.Addrs, addr.String())
				}

				mu.Lock()
				defer mu.Unlock()

				return output.Encode(result)
			})
		}

		if err := eg.Wait(); err != nil {
			return fmt.Errorf("encountered error while resolving: %w", err)
		}

		return nil
	},
}

func init() {
	CommandLookup.Flags().Int64("lock", int64(runtime.GOMAXPROCS(0)), "number of concurrent lookups")

	CommandRoot.AddCommand(CommandLookup)
}
