package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spesalog/spesalog/internal/ingest"
	"github.com/spesalog/spesalog/internal/logger"
)

func newStructureCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "structure <file>",
		Short: "Detect and print the column mapping of an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := BuildApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := logger.WithContext(cmd.Context(), app.Log)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %q: %w", args[0], err)
			}
			rows, columns, err := ingest.Parse(data, ingest.Options{})
			if err != nil {
				return err
			}

			s, usage, err := app.Detector.Resolve(ctx, rows, columns)
			if err != nil {
				return err
			}
			fmt.Printf("hash:        %s\n", s.Hash)
			fmt.Printf("date:        %s\n", s.DateColumn)
			fmt.Printf("description: %s\n", s.DescriptionColumn)
			if s.MerchantColumn != "" {
				fmt.Printf("merchant:    %s\n", s.MerchantColumn)
			}
			fmt.Printf("expense:     %s\n", s.ExpenseAmountColumn)
			fmt.Printf("income:      %s\n", s.IncomeAmountColumn)
			if s.OperationTypeColumn != "" {
				fmt.Printf("operation:   %s\n", s.OperationTypeColumn)
			}
			if s.LowConfidence {
				fmt.Println("low confidence: model detection unavailable, heuristic mapping only")
			}
			if usage.Input+usage.Output > 0 {
				fmt.Printf("tokens: %d in, %d out\n", usage.Input, usage.Output)
			}
			return nil
		},
	}
}
