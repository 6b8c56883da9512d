package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"petri/pkg/domain"
)

func (rt *runtime) printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTree prints one tree after a successful action.
func (rt *runtime) printTree(cmd *cobra.Command, action string, tree domain.CanonicalTree) error {
	if rt.jsonOut {
		return rt.printJSON(cmd, struct {
			domain.Result
			Tree domain.CanonicalTree `json:"tree"`
		}{domain.ResultOf(nil), tree})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", action, describe(tree))
	fmt.Fprintf(out, "  health %d (%s)  care %d  stewardship %d\n",
		tree.HealthScore, tree.HealthLabel(), tree.CareIndex, tree.StewardshipScore)
	if tree.Listed && tree.Price != nil {
		fmt.Fprintf(out, "  listed at %.2f\n", *tree.Price)
	}
	if tree.NFTImageURL != "" {
		fmt.Fprintf(out, "  nft image %s\n", tree.NFTImageURL)
	}
	return nil
}

func (rt *runtime) printTrees(cmd *cobra.Command, trees []domain.CanonicalTree) error {
	if rt.jsonOut {
		return rt.printJSON(cmd, trees)
	}
	out := cmd.OutOrStdout()
	if len(trees) == 0 {
		fmt.Fprintln(out, "No trees yet. Plant one with `petri plant`.")
		return nil
	}
	return writeTable(out, trees)
}

func writeTable(out io.Writer, trees []domain.CanonicalTree) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTOKEN\tSPECIES\tNAME\tOWNER\tHEALTH\tCARE\tPHOTOS\tPRICE")
	for _, t := range trees {
		price := "-"
		if t.Listed && t.Price != nil {
			price = strconv.FormatFloat(*t.Price, 'f', 2, 64)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.ID, t.TokenID, t.Species, orDash(t.Nickname), t.OwnerName,
			t.HealthScore, t.CareIndex, len(t.Photos), price)
	}
	return w.Flush()
}

func describe(t domain.CanonicalTree) string {
	if t.Nickname != "" {
		return fmt.Sprintf("%s %q (%s)", t.Species, t.Nickname, t.ID)
	}
	return fmt.Sprintf("%s (%s)", t.Species, t.ID)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
