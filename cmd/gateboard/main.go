// Command gateboard serves simulated airport flight boards, gate status and
// connection estimates.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yash/gateboard/internal/config"
	"github.com/yash/gateboard/internal/logging"
)

// cli carries the state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

// load resolves configuration and builds the logger. One-shot commands log
// to stderr regardless of log.dir so their stdout stays machine-readable.
func (c *cli) load(oneShot bool) (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	dir := cfg.Log.Dir
	if oneShot {
		dir = ""
	}
	return cfg, logging.New(cfg.Log.Level, dir), nil
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "gateboard",
		Short: "Airport flight boards, gate status and connection estimates",
		Long: `gateboard simulates departures and arrivals for a set of reference
airports, keeps them changing in the background and serves them over HTTP.
It can also pull live data from an aviationstack-compatible API.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	c.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newServeCmd(c),
		newAirportsCmd(c),
		newBoardCmd(c),
		newGateCmd(c),
		newConnectCmd(c),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
