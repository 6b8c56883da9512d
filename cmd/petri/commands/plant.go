package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"petri/internal/app"
	"petri/internal/core"
	"petri/pkg/domain"
)

func readPhoto(path, note string) (core.PhotoUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.PhotoUpload{}, errors.WithHint(
			domain.InvalidArgumentf("read photo %s: %v", filepath.Base(path), err),
			"pass the path of an existing image file")
	}
	return core.PhotoUpload{Data: data, Note: note}, nil
}

func newPhotoCmd(rt *runtime) *cobra.Command {
	var note string
	cmd := treeAction(rt, "photo <tree-id> <file>", "Add a progress photo (+3 health, +2 care)", "Photo added to", 1,
		func(cmd *cobra.Command, a *app.App, id domain.TreeID, args []string) (domain.CanonicalTree, error) {
			up, err := readPhoto(args[0], note)
			if err != nil {
				return domain.CanonicalTree{}, err
			}
			return a.Sync.AddProgressPhoto(cmd.Context(), id, up)
		})
	cmd.Flags().StringVar(&note, "note", "", "Caption stored with the photo")
	return cmd
}

func newPlantCmd(rt *runtime) *cobra.Command {
	var (
		req    domain.PlantRequest
		raw    string
		photos []string
		note   string
	)
	cmd := &cobra.Command{
		Use:   "plant",
		Short: "Plant a new tree",
		Long: `Plant a new tree. The tree appears locally with a temporary negative id
until the service confirms it; on failure it is removed again.`,
		Args: cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, _ []string) error {
			species, err := domain.ParseSpecies(raw)
			if err != nil {
				return errors.WithHintf(err, "choose one of %v", domain.KnownSpecies)
			}
			req.Species = species
			uploads := make([]core.PhotoUpload, 0, len(photos))
			for _, p := range photos {
				up, err := readPhoto(p, note)
				if err != nil {
					return err
				}
				uploads = append(uploads, up)
			}
			pending, err := a.Sync.PlantAsync(cmd.Context(), req, uploads...)
			if err != nil {
				return err
			}
			if !rt.jsonOut {
				fmt.Fprintf(cmd.OutOrStdout(), "Planting %s...\n", describe(pending.Temporary()))
			}
			tree, err := pending.Wait(cmd.Context())
			if err != nil {
				return err
			}
			return rt.printTree(cmd, "Planted", tree)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&raw, "species", "", "Tree species (oak, pine, birch, maple, elm, spruce)")
	f.StringVar(&req.Nickname, "nickname", "", "Name for the tree")
	f.Float64Var(&req.Latitude, "lat", 0, "Latitude in degrees")
	f.Float64Var(&req.Longitude, "lon", 0, "Longitude in degrees")
	f.StringVar(&req.LocationName, "location", "", "Human readable location")
	f.StringVar(&req.Description, "description", "", "Description")
	f.StringArrayVar(&photos, "photo", nil, "Photo file to attach (repeatable)")
	f.StringVar(&note, "note", "", "Caption stored with the photos")
	_ = cmd.MarkFlagRequired("species")
	return cmd
}

func newMintCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "mint <tree-id>",
		Short: "Mint the NFT of a confirmed tree",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			id, err := domain.ParseTreeID(args[0])
			if err != nil {
				return err
			}
			res, err := a.Sync.MintNFT(cmd.Context(), id)
			if err != nil {
				return err
			}
			if rt.jsonOut {
				return rt.printJSON(cmd, struct {
					domain.Result
					Mint domain.MintResult `json:"mint"`
				}{domain.ResultOf(nil), res})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Minted token %s for tree %s\n", res.TokenID, id)
			if res.ImageURI != "" {
				fmt.Fprintf(out, "  image %s\n", res.ImageURI)
			}
			if res.Message != "" {
				fmt.Fprintf(out, "  %s\n", res.Message)
			}
			return nil
		}),
	}
}
