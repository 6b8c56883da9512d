package commands

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"petri/internal/app"
	"petri/internal/core"
	"petri/pkg/domain"
)

func newMarketCmd(rt *runtime) *cobra.Command {
	var (
		filter  core.MarketFilter
		health  string
		sortBy  string
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Browse trees other users offer for sale",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, _ []string) error {
			filter.Health = core.HealthBucket(strings.ToLower(health))
			filter.Sort = core.MarketSort(strings.ToLower(sortBy))
			if err := filter.Validate(); err != nil {
				return errors.WithHint(err, "health is one of all, excellent, good, fair; sort is one of newest, price, health")
			}
			if !offline {
				if err := a.Sync.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			offers, err := a.Sync.Marketplace(filter)
			if err != nil {
				return err
			}
			if rt.jsonOut {
				return rt.printJSON(cmd, offers)
			}
			if len(offers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No trees on the marketplace match.")
				return nil
			}
			return writeTable(cmd.OutOrStdout(), offers)
		}),
	}
	cmd.Flags().StringVarP(&filter.Query, "search", "s", "", "Match species or nickname")
	cmd.Flags().StringVar(&health, "health", string(core.HealthAll), "Health bucket: all, excellent, good or fair")
	cmd.Flags().StringVar(&sortBy, "sort", string(core.SortNewest), "Order: newest, price or health")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use the locally stored trees without refreshing")
	return cmd
}

func newProfileCmd(rt *runtime) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Summarize the signed-in user's trees",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, _ []string) error {
			user, ok := a.Session.CurrentUser()
			if !ok || !a.Session.IsAuthenticated() {
				return domain.Unauthenticated("profile")
			}
			if !offline {
				if err := a.Sync.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			st := a.Sync.Stats(user)
			if rt.jsonOut {
				return rt.printJSON(cmd, struct {
					User domain.User `json:"user"`
					core.ProfileStats
				}{user, st})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (id %d)\n", user.Name(), user.ID)
			fmt.Fprintf(out, "  trees %d  owned %d  listed %d\n", st.Trees, st.Owned, st.Listed)
			fmt.Fprintf(out, "  average health %d  stewardship %d\n", st.AverageHealth, st.Stewardship)
			if st.Listed > 0 {
				fmt.Fprintf(out, "  listed value %.2f\n", st.ListedValue)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Use the locally stored trees without refreshing")
	return cmd
}

func newMetricsCmd(rt *runtime) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print the synchronizer metrics in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, _ []string) error {
			if refresh {
				if err := a.Sync.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			families, err := a.Registry.Gather()
			if err != nil {
				return errors.Wrap(err, "gather metrics")
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
					return errors.Wrap(err, "write metrics")
				}
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Refresh from the service before gathering")
	return cmd
}
