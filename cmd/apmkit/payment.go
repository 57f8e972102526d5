package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitwit/apmkit"
	"github.com/vitwit/apmkit/payment"
	"github.com/vitwit/apmkit/types"
	"github.com/vitwit/apmkit/utils"
)

func authorizeCmd() *cobra.Command {
	var invoiceID, gatewayID, tokenID, listen string
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Authorize an invoice through an alternative payment method",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if invoice, err := client.Invoice(cmd.Context(), invoiceID); err == nil {
				fmt.Fprintf(out, "Paying %s for invoice %s\n", invoice.FormattedAmount(), invoice.ID)
			}

			flow := types.NewAuthorizationFlow(invoiceID, gatewayID)
			flow.Authorization.CustomerTokenID = tokenID
			return runPayment(cmd.Context(), client, cfg, flow, listen, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVar(&invoiceID, "invoice", "", "invoice id")
	cmd.Flags().StringVar(&gatewayID, "gateway", "", "gateway configuration id")
	cmd.Flags().StringVar(&tokenID, "token", "", "customer token used as payment source")
	cmd.Flags().StringVar(&listen, "listen", "", "address for the redirect return listener (defaults to the return url host)")
	_ = cmd.MarkFlagRequired("invoice")
	_ = cmd.MarkFlagRequired("gateway")
	return cmd
}

func tokenizeCmd() *cobra.Command {
	var customerID, tokenID, gatewayID, listen string
	cmd := &cobra.Command{
		Use:   "tokenize",
		Short: "Tokenize a customer token through an alternative payment method",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			flow := types.NewTokenizationFlow(customerID, tokenID, gatewayID)
			return runPayment(cmd.Context(), client, cfg, flow, listen, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&tokenID, "token", "", "customer token id")
	cmd.Flags().StringVar(&gatewayID, "gateway", "", "gateway configuration id")
	cmd.Flags().StringVar(&listen, "listen", "", "address for the redirect return listener (defaults to the return url host)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("gateway")
	return cmd
}

func runCmd() *cobra.Command {
	var flowFile, listen string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a payment flow described by a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(flowFile)
			if err != nil {
				return fmt.Errorf("read flow: %w", err)
			}
			flow, err := utils.ParseFlow(data)
			if err != nil {
				return err
			}

			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			return runPayment(cmd.Context(), client, cfg, *flow, listen, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flowFile, "flow", "f", "", "path to a JSON payment flow")
	cmd.Flags().StringVar(&listen, "listen", "", "address for the redirect return listener (defaults to the return url host)")
	_ = cmd.MarkFlagRequired("flow")
	return cmd
}

func runPayment(ctx context.Context, client *apmkit.Client, cfg *types.Config, flow types.PaymentFlow, listen string, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := client.NewPayment(flow)
	if err != nil {
		return err
	}
	defer m.Close()

	if addr := listenAddress(cfg.ReturnURL, listen); addr != "" {
		srv := NewReturnServer(m, addr)
		go func() {
			if err := srv.Run(); err != nil {
				fmt.Fprintf(out, "return listener stopped: %v\n", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	return drive(ctx, m, bufio.NewReader(in), out)
}

// drive reacts to state changes until the payment is terminal. Parameters are
// prompted for whenever a new form arrives.
func drive(ctx context.Context, m *payment.Machine, in *bufio.Reader, out io.Writer) error {
	updates := make(chan payment.State, 64)
	stopped := make(chan struct{})
	defer close(stopped)
	sub := m.Subscribe(func(s payment.State) {
		select {
		case updates <- s:
		case <-stopped:
		}
	})
	defer sub.Close()

	m.Start()

	last := payment.StatusIdle
	for {
		select {
		case <-ctx.Done():
			m.Cancel()
			ctx = context.Background()

		case s := <-updates:
			prev := last
			last = s.Status
			switch s.Status {
			case payment.StatusStarted:
				if prev == payment.StatusStarted {
					continue
				}
				if err := collect(m, in, out); err != nil {
					m.Cancel()
					return err
				}
			case payment.StatusAwaitingConfirmation:
				if s.Redirect != nil {
					fmt.Fprintf(out, "Open this URL to continue: %s\n", s.Redirect.URL)
				} else if prev != payment.StatusAwaitingConfirmation {
					printInstructions(out, s.Elements)
					fmt.Fprintln(out, "Waiting for confirmation...")
				}
			case payment.StatusCaptured:
				fmt.Fprintln(out, "Payment captured.")
				return nil
			case payment.StatusFailed:
				return fmt.Errorf("payment failed: %w", s.Failure)
			}
		}
	}
}

// collect prompts until the machine accepts the values or leaves StatusStarted.
func collect(m *payment.Machine, in *bufio.Reader, out io.Writer) error {
	for {
		s := m.State()
		if s.Status != payment.StatusStarted {
			return nil
		}
		for _, p := range s.Parameters {
			if p.ValidationError != "" {
				fmt.Fprintf(out, "  %s: %s\n", label(p.Definition), p.ValidationError)
			}
		}

		values, err := promptParameters(in, out, s.Parameters)
		if err != nil {
			return err
		}
		for key, value := range values {
			m.UpdateParameter(key, value)
		}
		m.Submit()

		s = m.State()
		if s.Status != payment.StatusStarted || !s.HasValidationErrors() {
			return nil
		}
	}
}

// promptParameters reads one line per parameter. An empty line keeps the
// current value.
func promptParameters(in *bufio.Reader, out io.Writer, params []payment.Parameter) (map[string]string, error) {
	values := make(map[string]string, len(params))
	for _, p := range params {
		def := p.Definition
		prompt := label(def)
		if def.Required {
			prompt += " *"
		}
		if len(def.Choices) > 0 {
			choices := make([]string, len(def.Choices))
			for i, c := range def.Choices {
				choices[i] = c.Value
			}
			prompt += fmt.Sprintf(" [%s]", strings.Join(choices, ", "))
		}
		if p.Value != "" {
			prompt += fmt.Sprintf(" (%s)", p.Value)
		}
		fmt.Fprintf(out, "%s: ", prompt)

		line, err := in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("failed to read %s: %w", def.Key, err)
		}
		if line = strings.TrimSpace(line); line != "" {
			values[def.Key] = line
		}
	}
	return values, nil
}

func label(def types.ParameterDefinition) string {
	if def.Label != "" {
		return def.Label
	}
	return def.Key
}

func printInstructions(out io.Writer, elements []types.Element) {
	for _, e := range elements {
		for _, i := range e.Instructions {
			if i.Label != "" {
				fmt.Fprintf(out, "%s: %s\n", i.Label, i.Value)
			} else {
				fmt.Fprintln(out, i.Value)
			}
		}
	}
}
