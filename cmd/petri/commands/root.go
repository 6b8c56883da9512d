// Package commands implements the petri command tree.
package commands

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"petri/internal/app"
	"petri/internal/config"
	"petri/internal/logger"
)

// runtime carries the state shared by the subcommands of one invocation.
type runtime struct {
	configPath string
	jsonOut    bool
	verbose    bool

	app *app.App
}

// NewRootCmd builds the petri command tree.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}
	root := &cobra.Command{
		Use:   "petri",
		Short: "Petri - track, care for and trade your trees",
		Long: `Petri keeps a local copy of your trees in sync with the tree service.

Care actions (water, lessons, photos) and marketplace actions apply locally
right away and survive refreshes. Planting and minting call the service.

Examples:
  petri login ada -p secret          # Sign in
  petri trees                        # Refresh and list your trees
  petri water 42                     # Water tree 42
  petri plant --species oak --lat 52.52 --lon 13.40 --photo sprout.jpg
  petri list 42 19.99                # Offer tree 42 on the marketplace
  petri market --health good --sort price`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return rt.open(cmd.Context())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", "", "Path to a petri.toml or petri.yaml file")
	root.PersistentFlags().BoolVar(&rt.jsonOut, "json", false, "Print results as JSON")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newLoginCmd(rt),
		newRegisterCmd(rt),
		newLogoutCmd(rt),
		newStatusCmd(rt),
		newTreesCmd(rt),
		newWaterCmd(rt),
		newLessonCmd(rt),
		newListCmd(rt),
		newUnlistCmd(rt),
		newBuyCmd(rt),
		newPhotoCmd(rt),
		newPlantCmd(rt),
		newMintCmd(rt),
		newNFTCmd(rt),
		newDeleteCmd(rt),
		newMarketCmd(rt),
		newProfileCmd(rt),
		newMetricsCmd(rt),
	)
	return root
}

func (rt *runtime) open(ctx context.Context) error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	if rt.verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(logger.Config{JSON: cfg.Log.JSON, Level: cfg.Log.Level})
	if err != nil {
		return errors.Wrap(err, "initialize logger")
	}
	rt.app, err = app.Build(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return err
	}
	return nil
}

// run wraps a RunE so the app is closed whether or not the command failed.
func (rt *runtime) run(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer rt.close(cmd.Context())
		return fn(cmd, rt.app, args)
	}
}

func (rt *runtime) close(ctx context.Context) {
	if rt.app == nil {
		return
	}
	if err := rt.app.Close(context.WithoutCancel(ctx)); err != nil {
		rt.app.Logger.Warn("shutdown", zap.Error(err))
	}
	_ = rt.app.Logger.Sync()
	rt.app = nil
}
