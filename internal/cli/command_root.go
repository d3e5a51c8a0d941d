package cli

import (
	"fmt"
	"strings"

	"github.com/picatz/dohclient/pkg/dohttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// config holds flag values, overridable with DOHCLIENT_* environment
	// variables or a config file.
	config = viper.New()

	log = logrus.New()
)

var CommandRoot = &cobra.Command{
	Use:   "doh-client",
	Short: `doh-client sends HTTP requests resolving host names through DoH providers`,
	Long: `doh-client sends HTTP requests whose host names are resolved exclusively through
a DNS-over-HTTPS provider (CloudFlare, Google, AdGuard, Quad9, AliDNS, DNSPod, threeSixty,
Quad101, Mullvad, ControlD, Najalla or SheCan). Unknown providers fall back to CloudFlare.

Results are written to STDOUT as JSON, using the same shapes as the call bridge.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if file := config.GetString("config"); file != "" {
			config.SetConfigFile(file)
			if err := config.ReadInConfig(); err != nil {
				return fmt.Errorf("invalid config file: %w", err)
			}
		}

		level, err := logrus.ParseLevel(config.GetString("log-level"))
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}

		log.SetOutput(cmd.ErrOrStderr())
		log.SetLevel(level)

		return nil
	},
}

// clientOptions returns the dohttp options selected by the configuration.
func clientOptions() []dohttp.Option {
	opts := []dohttp.Option{
		dohttp.WithLogger(log),
		dohttp.WithTimeout(config.GetDuration("timeout")),
		dohttp.WithRetries(config.GetInt("retries")),
	}

	if config.GetBool("json-resolver") {
		opts = append(opts, dohttp.WithJSONResolver())
	}

	return opts
}

func newClient() *dohttp.Client {
	return dohttp.New(config.GetString("provider"), clientOptions()...)
}

func init() {
	flags := CommandRoot.PersistentFlags()

	flags.String("config", "", "config file (json, yaml or toml)")
	flags.String("provider", "CloudFlare", "DoH provider used to resolve host names")
	flags.Duration("timeout", dohttp.DefaultTimeout, "timeout for each request, 0s for no timeout")
	flags.Int("retries", 0, "number of times a failed request is retried")
	flags.Bool("json-resolver", false, "resolve through the provider's DoH JSON API, when it has one")
	flags.String("log-level", logrus.WarnLevel.String(), "log level (debug, info, warn, error)")

	config.SetEnvPrefix("DOHCLIENT")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	if err := config.BindPFlags(flags); err != nil {
		panic(err)
	}
}
