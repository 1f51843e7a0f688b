package main

import (
	"strconv"

	"github.com/spf13/cobra"
	repositories "github.com/ticketchief/backend/services/order-service/repository"
	"github.com/ticketchief/backend/services/payment-service/repository"
)

func orderCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect orders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [order-id]",
		Short: "Print an order with its items as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			order, err := repositories.NewGormOrderRepository(db).FindByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), order)
		},
	})
	return cmd
}

type sessionReport struct {
	Session  any   `json:"session"`
	Attempts int64 `json:"attemptsRecorded"`
}

func sessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect payment sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [correlation-id]",
		Short: "Print a payment session and its recorded attempt count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			repo := repository.NewGormPaymentRepo(db)
			session, err := repo.FindByCorrelationID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			n, err := repo.CountAttempts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sessionReport{Session: session, Attempts: n})
		},
	})
	return cmd
}
