package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
)

func newNumberCmd() *cobra.Command {
	var (
		kind string
		last string
		year int
	)
	cmd := &cobra.Command{
		Use:   "number",
		Short: "Print the number following the last issued one",
		Long: "Computes the next proposal (2026-001) or invoice (INV-2026-001) number.\n" +
			"Without --last the first number of the year is printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = time.Now().Year()
			}
			next, err := nextNumber(numbering.Kind(kind), last, year)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), next)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(numbering.KindProposal), "Series: proposal or invoice")
	cmd.Flags().StringVar(&last, "last", "", "Last issued number of the year")
	cmd.Flags().IntVar(&year, "year", 0, "Year (defaults to the current year)")
	return cmd
}

func nextNumber(kind numbering.Kind, last string, year int) (string, error) {
	if kind != numbering.KindProposal && kind != numbering.KindInvoice {
		return "", fmt.Errorf("number: unknown kind %q", kind)
	}
	if last == "" {
		return numbering.Format(kind.Prefix(), year, 1), nil
	}
	lastYear, seq, err := numbering.Parse(kind.Prefix(), last)
	if err != nil {
		return "", err
	}
	if lastYear != year {
		return numbering.Format(kind.Prefix(), year, 1), nil
	}
	return numbering.Format(kind.Prefix(), year, seq+1), nil
}
