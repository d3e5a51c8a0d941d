package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/picatz/dohclient/pkg/bridge"
	"github.com/spf13/cobra"
)

var CommandCall = &cobra.Command{
	Use:   "call name [arguments]",
	Short: "Perform a bridge call, such as makeGetRequest",
	Long: `Perform a named bridge call (makeGetRequest, makePostRequest, makePutRequest,
makePatchRequest or makeDeleteRequest) with JSON arguments, given inline or on STDIN:

	doh-client call makePostRequest '{"url":"https://example.com","body":"{}","dohProvider":"Quad9"}'

The result map is written to STDOUT as JSON.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input io.Reader = cmd.InOrStdin()
		if len(args) == 2 {
			input = strings.NewReader(args[1])
		}

		var callArgs bridge.Args
		if err := json.NewDecoder(input).Decode(&callArgs); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid arguments: %w", err)
		}

		b := bridge.New(log, clientOptions()...)
		defer b.Close()

		result, err := b.Call(cmd.Context(), args[0], callArgs)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	},
}

func init() {
	CommandRoot.AddCommand(CommandCall)
}
