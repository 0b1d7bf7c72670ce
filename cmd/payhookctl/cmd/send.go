package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/payhook/internal/event"
	"github.com/austindbirch/payhook/internal/signature"
	"github.com/austindbirch/payhook/internal/webhook"
)

type sendOptions struct {
	id       string
	kind     string
	orderID  string
	customer string
	vendor   string
	amount   int64
	currency string
	reason   string
	file     string
	badSig   bool
}

var sendOpts sendOptions

// sendResult is what the server answered.
type sendResult struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and POST a payment event to payhook",
	Long: `Build a sample payment event (or read one from --file), sign it with the
webhook secret and POST it to the payhook server.

Examples:
  payhookctl send --kind paid --order ORD-001 --customer C1 --vendor V1 --amount 3356
  payhookctl send --kind failed --order ORD-001 --reason "card declined"
  payhookctl send --file captured.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := requireSecret()
		if err != nil {
			return err
		}

		var body []byte
		if sendOpts.file != "" {
			body, err = readInput(cmd, sendOpts.file)
		} else {
			body, err = buildEvent(sendOpts)
		}
		if err != nil {
			return err
		}

		sig := signature.NewVerifier(key).Sign(body)
		if sendOpts.badSig {
			sig = strings.Repeat("0", len(sig))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		res, err := postWebhook(ctx, httpClient(), baseURL(), sigHeader, sig, body)
		if err != nil {
			return err
		}

		if outputJSON {
			printOutput(cmd.OutOrStdout(), res)
		} else {
			mark := "✓"
			if res.Status != http.StatusOK {
				mark = "✗"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s HTTP %d %s\n", mark, res.Status, strings.TrimSpace(string(res.Body)))
		}
		if res.Status >= 300 {
			return fmt.Errorf("server answered %d", res.Status)
		}
		return nil
	},
}

// buildEvent encodes a sample event in the processor's wire format
func buildEvent(o sendOptions) ([]byte, error) {
	kind := event.KindFromWire(o.kind)
	if kind == event.Unknown {
		// Short forms
		switch strings.ToLower(o.kind) {
		case "paid":
			kind = event.PaymentPaid
		case "failed":
			kind = event.PaymentFailed
		case "chargeable":
			kind = event.SourceChargeable
		default:
			return nil, fmt.Errorf("unknown kind %q (use paid, failed or chargeable)", o.kind)
		}
	}
	if o.orderID == "" {
		return nil, fmt.Errorf("--order is required")
	}
	id := o.id
	if id == "" {
		id = "evt_" + strings.ToLower(strings.ReplaceAll(o.orderID, "-", ""))
	}
	return event.Encode(event.Event{
		ID:   id,
		Kind: kind,
		Attributes: event.Attributes{
			Amount:   o.amount,
			Currency: strings.ToUpper(o.currency),
			Metadata: event.Metadata{
				OrderID:       o.orderID,
				CustomerID:    o.customer,
				VendorID:      o.vendor,
				FailureReason: o.reason,
			},
		},
	})
}

func postWebhook(ctx context.Context, client *http.Client, base, header, sig string, body []byte) (sendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+webhook.Path, bytes.NewReader(body))
	if err != nil {
		return sendResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, sig)

	resp, err := client.Do(req)
	if err != nil {
		return sendResult{}, fmt.Errorf("POST %s: %w", webhook.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return sendResult{}, fmt.Errorf("read response: %w", err)
	}
	res := sendResult{Status: resp.StatusCode}
	if json.Valid(raw) {
		res.Body = raw
	} else if len(raw) > 0 {
		quoted, _ := json.Marshal(string(raw))
		res.Body = quoted
	}
	return res, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendOpts.id, "id", "", "event id (default derived from the order id)")
	sendCmd.Flags().StringVar(&sendOpts.kind, "kind", "paid", "event kind: paid, failed, chargeable or a wire type")
	sendCmd.Flags().StringVar(&sendOpts.orderID, "order", "", "order id")
	sendCmd.Flags().StringVar(&sendOpts.customer, "customer", "", "customer id")
	sendCmd.Flags().StringVar(&sendOpts.vendor, "vendor", "", "vendor id")
	sendCmd.Flags().Int64Var(&sendOpts.amount, "amount", 0, "amount in minor units")
	sendCmd.Flags().StringVar(&sendOpts.currency, "currency", "PHP", "ISO currency code")
	sendCmd.Flags().StringVar(&sendOpts.reason, "reason", "", "failure reason for failed events")
	sendCmd.Flags().StringVar(&sendOpts.file, "file", "", "send this body instead of a generated event (- for stdin)")
	sendCmd.Flags().BoolVar(&sendOpts.badSig, "bad-signature", false, "send a wrong signature to exercise rejection")
}
