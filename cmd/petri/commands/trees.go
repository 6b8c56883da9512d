package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"petri/internal/app"
	"petri/pkg/domain"
)

func newTreesCmd(rt *runtime) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:     "trees",
		Aliases: []string{"ls"},
		Short:   "Refresh from the service and list trees",
		Args:    cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, _ []string) error {
			if !offline {
				if err := a.Sync.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			return rt.printTrees(cmd, a.Sync.Trees())
		}),
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "List the locally stored trees without refreshing")
	return cmd
}

// treeAction builds a command taking a tree id and extra positional args.
func treeAction(rt *runtime, use, short, verb string, extra int, fn func(cmd *cobra.Command, a *app.App, id domain.TreeID, args []string) (domain.CanonicalTree, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1 + extra),
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			id, err := domain.ParseTreeID(args[0])
			if err != nil {
				return err
			}
			tree, err := fn(cmd, a, id, args[1:])
			if err != nil {
				return err
			}
			return rt.printTree(cmd, verb, tree)
		}),
	}
}

func newWaterCmd(rt *runtime) *cobra.Command {
	return treeAction(rt, "water <tree-id>", "Water a tree (+2 health, +1 care)", "Watered", 0,
		func(cmd *cobra.Command, a *app.App, id domain.TreeID, _ []string) (domain.CanonicalTree, error) {
			return a.Sync.Water(cmd.Context(), id)
		})
}

func newLessonCmd(rt *runtime) *cobra.Command {
	return treeAction(rt, "lesson <tree-id> <lesson-id>", "Record a completed lesson (+5 stewardship, +3 care)", "Lesson completed for", 1,
		func(cmd *cobra.Command, a *app.App, id domain.TreeID, args []string) (domain.CanonicalTree, error) {
			return a.Sync.CompleteLesson(cmd.Context(), id, args[0])
		})
}

func newListCmd(rt *runtime) *cobra.Command {
	return treeAction(rt, "list <tree-id> <price>", "Offer a tree on the marketplace", "Listed", 1,
		func(cmd *cobra.Command, a *app.App, id domain.TreeID, args []string) (domain.CanonicalTree, error) {
			price, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return domain.CanonicalTree{}, domain.InvalidArgumentf("invalid price %q", args[0])
			}
			return a.Sync.ListForSale(cmd.Context(), id, price)
		})
}

func newUnlistCmd(rt *runtime) *cobra.Command {
	return treeAction(rt, "unlist <tree-id>", "Withdraw a tree from the marketplace", "Unlisted", 0,
		func(cmd *cobra.Command, a *app.App, id domain.TreeID, _ []string) (domain.CanonicalTree, error) {
			return a.Sync.Unlist(cmd.Context(), id)
		})
}

func newBuyCmd(rt *runtime) *cobra.Command {
	return treeAction(rt, "buy <tree-id>", "Buy a listed tree", "Bought", 0,
		func(cmd *cobra.Command, a *app.App, id domain.TreeID, _ []string) (domain.CanonicalTree, error) {
			return a.Sync.Buy(cmd.Context(), id)
		})
}

func newNFTCmd(rt *runtime) *cobra.Command {
	return treeAction(rt, "nft <tree-id> <image-uri>", "Attach a generated NFT image to a tree", "NFT image set for", 1,
		func(cmd *cobra.Command, a *app.App, id domain.TreeID, args []string) (domain.CanonicalTree, error) {
			return a.Sync.BindNFTImage(cmd.Context(), id, args[0])
		})
}

func newDeleteCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tree-id>",
		Short: "Remove a tree from the local list",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			id, err := domain.ParseTreeID(args[0])
			if err != nil {
				return err
			}
			if err := a.Sync.Delete(cmd.Context(), id); err != nil {
				return err
			}
			if rt.jsonOut {
				return rt.printJSON(cmd, domain.ResultOf(nil))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted tree %s\n", id)
			return nil
		}),
	}
}
