package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func invoiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoice [invoice-id]",
		Short: "Show invoice details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			invoice, err := client.Invoice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Invoice:  %s\n", invoice.ID)
			if invoice.Name != "" {
				fmt.Fprintf(out, "Name:     %s\n", invoice.Name)
			}
			fmt.Fprintf(out, "Amount:   %s\n", invoice.FormattedAmount())
			return nil
		},
	}
}

func captureCmd() *cobra.Command {
	var invoiceID, gatewayID string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture an authorized invoice (requires a private key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Capture(cmd.Context(), invoiceID, gatewayID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Captured %s\n", invoiceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&invoiceID, "invoice", "", "invoice id")
	cmd.Flags().StringVar(&gatewayID, "gateway", "", "gateway configuration id")
	_ = cmd.MarkFlagRequired("invoice")
	_ = cmd.MarkFlagRequired("gateway")
	return cmd
}
