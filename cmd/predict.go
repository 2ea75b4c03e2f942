package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/dqmonitor/internal/predictor"
	"github.com/KaramelBytes/dqmonitor/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	prReq  predictor.Request
	prDate string
	prJSON bool
)

type predictResult struct {
	SubmissionID string         `json:"submission_id"`
	Verdict      string         `json:"verdict"`
	Record       map[string]any `json:"record"`
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Ask the hosted model for a data-quality verdict on one order record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		req := prReq
		req.CountryCode = strings.TrimSpace(req.CountryCode)
		if prDate == "" {
			req.OrderDate = time.Now()
		} else {
			d, err := time.Parse("2006-01-02", prDate)
			if err != nil {
				return fmt.Errorf("invalid --order-date %q (use YYYY-MM-DD)", prDate)
			}
			req.OrderDate = d
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("invalid record:\n%w", err)
		}

		id := uuid.NewString()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		verdict, err := newPredictorClient(c).Predict(ctx, req)
		if err != nil {
			return fmt.Errorf("prediction failed: %w", err)
		}
		log.Debug().Str("submission_id", id).Dur("elapsed", time.Since(start)).Msg("prediction received")

		out := cmd.OutOrStdout()
		if prJSON {
			record := make(map[string]any, len(predictor.Fields))
			for i, v := range req.Values() {
				record[predictor.Fields[i]] = v
			}
			b, err := utils.PrettyJSON(predictResult{SubmissionID: id, Verdict: verdict, Record: record})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		fmt.Fprintf(out, "✓ Predicted Data Quality Issue: %s\n", verdict)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(predictCmd)
	f := predictCmd.Flags()
	def := predictor.DefaultRequest(time.Time{})
	f.IntVar(&prReq.OrderID, "order-id", def.OrderID, "order ID (>= 10000)")
	f.IntVar(&prReq.CustomerID, "customer-id", def.CustomerID, "customer ID (>= 1000)")
	f.StringVar(&prReq.Currency, "currency", def.Currency, "currency: USD | INR | EUR | BTC")
	f.StringVar(&prDate, "order-date", "", "order date YYYY-MM-DD (default today)")
	f.StringVar(&prReq.Status, "status", def.Status, "order status: Completed | Pending | Cancelled")
	f.StringVar(&prReq.CountryCode, "country", "", "country code")
	f.StringVar(&prReq.PaymentMethod, "payment-method", def.PaymentMethod, "payment method: 'Credit Card' | 'Debit Card' | PayPal | Bitcoin")
	f.StringVar(&prReq.FraudFlag, "fraud-flag", def.FraudFlag, "fraud flag: Yes | No")
	f.IntVar(&prReq.DeliveryDays, "delivery-days", def.DeliveryDays, "delivery days (>= 1)")
	f.IntVar(&prReq.CustomerAge, "customer-age", def.CustomerAge, "customer age (18-100)")
	f.StringVar(&prReq.ProductCategory, "category", def.ProductCategory, "product category: Electronics | Clothing | Automotive | Toys")
	f.BoolVar(&prJSON, "json", false, "print the submission as JSON")
}
