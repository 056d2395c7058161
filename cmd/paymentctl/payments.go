package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"coaching_payments_echo/internal/gateway"
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/services"
	"coaching_payments_echo/internal/store"
)

func sweepCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire payments that were never resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, log, err := connect()
			if err != nil {
				return err
			}
			if window <= 0 {
				window = cfg.PendingExpiryWindow
			}

			payments := services.NewPaymentService(store.NewTransactionStore(db), []gateway.Adapter{}, nil, nil,
				services.PaymentConfig{DefaultGateway: models.PaymentGateway(cfg.DefaultGateway), GatewayTimeout: cfg.GatewayTimeout}, log)
			n, err := payments.ExpireStale(cmd.Context(), window)
			if err != nil {
				return fmt.Errorf("sweep stopped after %d: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d payment(s) older than %s\n", n, window)
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "Age after which an unresolved payment expires (default PENDING_EXPIRY_WINDOW)")
	return cmd
}

func statusCmd() *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "status [transaction_id|gateway_reference]",
		Short: "Show a payment transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, log, err := connect()
			if err != nil {
				return err
			}

			st := store.NewTransactionStore(db)
			payments := services.NewPaymentService(st, []gateway.Adapter{}, nil, nil,
				services.PaymentConfig{DefaultGateway: models.PaymentGateway(cfg.DefaultGateway), GatewayTimeout: cfg.GatewayTimeout}, log)
			txn, err := payments.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %s\n", txn.ID)
			fmt.Fprintf(out, "Reference:  %s\n", txn.Reference())
			fmt.Fprintf(out, "Gateway:    %s\n", txn.Gateway)
			fmt.Fprintf(out, "User:       %s\n", txn.UserID)
			fmt.Fprintf(out, "Product:    %s\n", txn.ProductKind)
			fmt.Fprintf(out, "Amount:     %s %s\n", txn.Amount.StringFixed(2), txn.Currency)
			fmt.Fprintf(out, "Status:     %s\n", txn.Status)
			if txn.FailureReason != "" {
				fmt.Fprintf(out, "Reason:     %s\n", txn.FailureReason)
			}
			fmt.Fprintf(out, "Created:    %s\n", txn.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Updated:    %s\n", txn.UpdatedAt.Format(time.RFC3339))

			if !history {
				return nil
			}
			var callbacks []models.PaymentCallbackHistory
			if err := db.WithContext(cmd.Context()).Where("transaction_id = ?", txn.ID).Order("created_at").Find(&callbacks).Error; err != nil {
				return fmt.Errorf("failed to load callbacks: %w", err)
			}
			fmt.Fprintf(out, "\nCallbacks (%d):\n", len(callbacks))
			for _, cb := range callbacks {
				payload, _ := json.Marshal(cb.Metadata)
				fmt.Fprintf(out, "  %s  %-9s  verified=%s  %s\n", cb.CreatedAt.Format(time.RFC3339), cb.Disposition, cb.VerifiedOutcome, payload)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "callbacks", false, "Also list the callbacks received for the transaction")
	return cmd
}
