package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
)

// QuoteRequest is the file format accepted by the quote command.
type QuoteRequest struct {
	Config pricing.Config     `json:"config"`
	Items  []pricing.LineItem `json:"items"`
}

func newQuoteCmd() *cobra.Command {
	var (
		file   string
		policy string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price line items and print totals as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(cmd.InOrStdin(), cmd.OutOrStdout(), file, policy)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Quote request JSON file, - for stdin")
	cmd.Flags().StringVar(&policy, "policy", "", "Subtotal policy (defaults to net of item discounts)")
	return cmd
}

func runQuote(in io.Reader, out io.Writer, file, policy string) error {
	p, err := pricing.ParseSubtotalPolicy(policy)
	if err != nil {
		return err
	}
	var req QuoteRequest
	if err := readJSON(file, in, &req); err != nil {
		return err
	}
	errs := pricing.ValidateConfig(req.Config)
	for i, item := range req.Items {
		errs.Merge(fmt.Sprintf("items[%d]", i), pricing.ValidateLineItem(req.Config.Type, item))
	}
	if !errs.Valid() {
		return fmt.Errorf("quote: %w", errs)
	}
	return writeJSON(out, pricing.NewEngine(p).Price(req.Items, req.Config))
}
