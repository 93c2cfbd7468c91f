package cli

import (
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/internal/finderfees"
)

type netResult struct {
	NetAmount      decimal.Decimal  `json:"netAmount"`
	Reimbursements decimal.Decimal  `json:"expenseReimbursements"`
	FeeAmount      *decimal.Decimal `json:"feeAmount,omitempty"`
}

func newNetCmd() *cobra.Command {
	var (
		file    string
		percent string
	)
	cmd := &cobra.Command{
		Use:   "net",
		Short: "Compute the net amount of an invoice for finder fees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNet(cmd.InOrStdin(), cmd.OutOrStdout(), file, percent)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Invoice JSON file, - for stdin")
	cmd.Flags().StringVar(&percent, "percent", "", "Optional finder percentage to apply to the net amount")
	return cmd
}

func runNet(in io.Reader, out io.Writer, file, percent string) error {
	var inv finderfees.Invoice
	if err := readJSON(file, in, &inv); err != nil {
		return err
	}
	res := netResult{
		NetAmount:      finderfees.CalculateInvoiceNetAmount(inv),
		Reimbursements: finderfees.ExpenseReimbursements(inv),
	}
	if percent != "" {
		pct, err := decimal.NewFromString(percent)
		if err != nil {
			return err
		}
		fee := finderfees.FeeAmount(res.NetAmount, pct)
		res.FeeAmount = &fee
	}
	return writeJSON(out, res)
}
