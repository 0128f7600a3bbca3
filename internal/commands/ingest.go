package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spesalog/spesalog/internal/logger"
)

func newIngestCommand(cfgPath *string) *cobra.Command {
	var userID string
	var process bool

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Register a bank export file and create its pending transactions",
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

			upload, err := app.Processor.Ingest(ctx, app.archiver(), userID, filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Printf("Ingested %s as upload %s\n", upload.Filename, upload.ID)

			if !process {
				return nil
			}
			result, err := app.Processor.ProcessUpload(ctx, upload.ID)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner of the upload (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().BoolVar(&process, "process", false, "process the upload immediately")

	return cmd
}
