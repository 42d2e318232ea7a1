package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yash/gateboard/internal/reference"
	"github.com/yash/gateboard/pkg/models"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// oneShot builds a fresh application for a single query.
func (c *cli) oneShot() (*App, func(), error) {
	cfg, logger, err := c.load(true)
	if err != nil {
		return nil, nil, err
	}
	app, err := NewApp(cfg, logger.Logger)
	if err != nil {
		logger.Close()
		return nil, nil, err
	}
	return app, func() {
		app.bridge.Close()
		logger.Close()
	}, nil
}

func (a *App) requireAirport(code string) (*reference.Airport, error) {
	airport, ok := a.ref.Airport(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", reference.ErrUnknownAirport, code)
	}
	return airport, nil
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background update loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.load(false)
			if err != nil {
				return err
			}
			defer logger.Close()
			cfg.Runtime.Apply()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(cfg, logger.Logger)
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP port")
	c.v.BindPFlag("http.port", cmd.Flags().Lookup("port"))
	return cmd
}

// ---------------------------------------------------------------------------
// One-shot queries
// ---------------------------------------------------------------------------

func newAirportsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "airports",
		Short: "List the reference airports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := c.oneShot()
			if err != nil {
				return err
			}
			defer done()

			airports := app.ref.Airports()
			out := make([]models.AirportInfo, len(airports))
			for i := range airports {
				out[i] = airports[i].Info()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newBoardCmd(c *cli) *cobra.Command {
	var (
		arrivals bool
		live     bool
		filters  models.FlightFilters
		status   string
	)
	cmd := &cobra.Command{
		Use:   "board <code>",
		Short: "Print the departures (or arrivals) board of an airport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := c.oneShot()
			if err != nil {
				return err
			}
			defer done()

			airport, err := app.requireAirport(args[0])
			if err != nil {
				return err
			}
			if live {
				app.normalizer.Refresh(cmd.Context(), airport.Code)
			}
			filters.Status = models.FlightStatus(status)

			var board []models.Flight
			if arrivals {
				board = app.query.Arrivals(airport.Code, &filters)
			} else {
				board = app.query.Departures(airport.Code, &filters)
			}
			return printJSON(cmd.OutOrStdout(), board)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&arrivals, "arrivals", false, "show arrivals instead of departures")
	f.BoolVar(&live, "live", false, "fetch from the upstream API first, keeping simulated data on failure")
	f.StringVar(&filters.Airline, "airline", "", "airline name or code substring")
	f.StringVar(&filters.Destination, "destination", "", "destination city or code substring")
	f.StringVar(&filters.Origin, "origin", "", "origin city or code substring")
	f.StringVar(&status, "status", "", "flight status")
	f.StringVar(&filters.Gate, "gate", "", "gate substring")
	f.StringVar(&filters.Terminal, "terminal", "", "terminal substring")
	return cmd
}

func newGateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "gate <code> <gate>",
		Short: "Show what is happening at a gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := c.oneShot()
			if err != nil {
				return err
			}
			defer done()

			info := app.query.GateInfo(args[1], args[0])
			if info == nil {
				return fmt.Errorf("%w: %s", reference.ErrUnknownAirport, args[0])
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newConnectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <code> <from-gate> <to-gate>",
		Short: "Estimate the walk between two gates",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := c.oneShot()
			if err != nil {
				return err
			}
			defer done()

			airport, err := app.requireAirport(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), app.query.ConnectionInfo(args[1], args[2], airport.Code))
		},
	}
}
