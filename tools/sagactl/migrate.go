package main

import (
	"fmt"

	"github.com/spf13/cobra"
	ddb "github.com/ticketchief/backend/pkg/dynamodb"
	"github.com/ticketchief/backend/pkg/lock"
	"github.com/ticketchief/backend/pkg/outbox"
	ordermodels "github.com/ticketchief/backend/services/order-service/models"
	paymentmodels "github.com/ticketchief/backend/services/payment-service/models"
)

// schemaFor lists the tables owned by service. Both services carry their own
// outbox table.
func schemaFor(service string) ([]interface{}, error) {
	switch service {
	case "order":
		return []interface{}{&ordermodels.Order{}, &ordermodels.CartItem{}, &outbox.Message{}}, nil
	case "payment":
		return []interface{}{&paymentmodels.PaymentSession{}, &paymentmodels.Attempt{}, &outbox.Message{}}, nil
	default:
		return nil, fmt.Errorf("unknown service %q (want order or payment)", service)
	}
}

func migrateCmd(a *app) *cobra.Command {
	var lockTable string

	cmd := &cobra.Command{
		Use:   "migrate [order|payment]",
		Short: "Create or update the tables of one service",
		Long: `Run gorm AutoMigrate for the service whose database the POSTGRES_* variables point at.

With --lock-table the DynamoDB table used by LOCK_BACKEND=dynamodb is created as well.

Examples:
  sagactl migrate order --lock-table order_locks
  sagactl migrate payment`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := schemaFor(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := a.openDB(ctx, schema...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables for %s-service\n", len(schema), args[0])

			if lockTable == "" {
				return nil
			}
			client, err := ddb.NewClient(ctx)
			if err != nil {
				return err
			}
			if err := ddb.EnsureTable(ctx, client, lockTable, lock.DynamoHashKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lock table %s ready\n", lockTable)
			return nil
		},
	}

	cmd.Flags().StringVar(&lockTable, "lock-table", "", "also create this DynamoDB lock table")
	return cmd
}
