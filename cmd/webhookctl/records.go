package main

import (
	"encoding/json"
	"fmt"
	"io"

	"payment-webhook-engine/internal/adapter/http/dto"
	"payment-webhook-engine/internal/app"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup pass over expired DELIVERED and FAILED records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.Sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d records (%d delivered, %d failed)\n", res.Total(), res.Delivered, res.Failed)
			return nil
		},
	}
}

func deadLettersCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List FAILED delivery records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer engine.Close()

			recs, total, err := engine.Webhooks.ListDeadLetters(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			items := make([]dto.RecordResponse, 0, len(recs))
			for _, rec := range recs {
				items = append(items, dto.ToRecordResponse(rec, false))
			}
			return writeJSON(cmd.OutOrStdout(), dto.DeadLetterListResponse{
				Items:  items,
				Total:  total,
				Limit:  limit,
				Offset: offset,
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

func redeliverCmd() *cobra.Command {
	var correlationID string
	cmd := &cobra.Command{
		Use:   "redeliver [record-id]",
		Short: "Replay a FAILED record as a new PENDING record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q: %w", args[0], err)
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer engine.Close()

			rec, err := engine.Webhooks.Redeliver(cmd.Context(), id, correlationID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), dto.ToRecordResponse(rec, false))
		},
	}
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation id of the redelivery (defaults to the original)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
