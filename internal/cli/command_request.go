package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/picatz/dohclient/pkg/dohttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type requestResult struct {
	URL    string         `json:"url"`
	Result map[string]any `json:"result"`
}

// newRequestCommand returns the command sending method requests to each URL.
func newRequestCommand(method string) *cobra.Command {
	name := strings.ToLower(method)

	cmd := &cobra.Command{
		Use:   name + " urls... [flags]",
		Short: fmt.Sprintf("Send %s requests", method),
		Long: fmt.Sprintf(`Send a %s request to each of the given URLs, resolving their hosts through the
selected DoH provider. Requests are sent in parallel, and results are streamed to STDOUT
as JSON newline delimited objects.`, method),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, err := parseHeaders(cmd)
			if err != nil {
				return err
			}

			body, err := readBody(cmd)
			if err != nil {
				return err
			}

			client := newClient()
			defer client.CloseIdleConnections()

			var (
				output = json.NewEncoder(cmd.OutOrStdout())
				mu     sync.Mutex
			)

			eg, ctx := errgroup.WithContext(cmd.Context())

			for _, arg := range args {
				eg.Go(func() error {
					result := client.Execute(ctx, &dohttp.Request{
						Method:  method,
						URL:     arg,
						Headers: headers,
						Body:    body,
					})

					mu.Lock()
					defer mu.Unlock()

					return output.Encode(&requestResult{
						URL:    arg,
						Result: result.Map(),
					})
				})
			}

			if err := eg.Wait(); err != nil {
				return fmt.Errorf("encountered error while writing results: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringArrayP("header", "H", nil, `request header as "Name: value", may be repeated`)

	if method != http.MethodGet {
		cmd.Flags().StringP("data", "d", "", `request body, or @file to read it from a file ("@-" for STDIN)`)
	}

	return cmd
}

// parseHeaders reads the --header flags of cmd.
func parseHeaders(cmd *cobra.Command) (map[string]string, error) {
	values, err := cmd.Flags().GetStringArray("header")
	if err != nil {
		return nil, fmt.Errorf("invalid headers: %w", err)
	}

	headers := make(map[string]string, len(values))

	for _, value := range values {
		name, v, ok := strings.Cut(value, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", value)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(v)
	}

	return headers, nil
}

// readBody reads the --data flag of cmd. It returns nil when the flag was
// not given, so that no body is sent.
func readBody(cmd *cobra.Command) ([]byte, error) {
	flag := cmd.Flags().Lookup("data")
	if flag == nil || !flag.Changed {
		return nil, nil
	}

	data := flag.Value.String()

	switch {
	case data == "@-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(data, "@"):
		return os.ReadFile(strings.TrimPrefix(data, "@"))
	default:
		return []byte(data), nil
	}
}

func init() {
	for _, method := range []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	} {
		CommandRoot.AddCommand(newRequestCommand(method))
	}
}
