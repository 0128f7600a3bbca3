package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
)

func newProcessCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process <upload-id>",
		Short: "Resolve and categorize every row of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := BuildApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := logger.WithContext(cmd.Context(), app.Log)

			result, err := app.Processor.ProcessUpload(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func newResumeCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Re-process uploads whose worker died mid-run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := BuildApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := logger.WithContext(cmd.Context(), app.Log)

			stuck, err := app.Store.ListStuckUploads(ctx, app.Cfg.StuckGracePeriod)
			if err != nil {
				return err
			}
			if len(stuck) == 0 {
				fmt.Println("No stuck uploads.")
				return nil
			}
			for _, u := range stuck {
				fmt.Printf("Resuming upload %s (%s, stale owner %s)\n", u.ID, u.Filename, u.Owner)
				result, err := app.Processor.ProcessUpload(ctx, u.ID)
				if err != nil {
					app.Log.Error().Err(err).Str("upload_id", u.ID).Msg("resume failed")
					continue
				}
				printResult(result)
			}
			return nil
		},
	}
}

func newStatusCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Show per-status row counts for an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := BuildApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := logger.WithContext(cmd.Context(), app.Log)

			progress, err := app.Processor.Progress(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("total=%d pending=%d processing=%d categorized=%d uncategorized=%d done=%v\n",
				progress.Total, progress.Pending, progress.Processing,
				progress.Categorized, progress.Uncategorized, progress.Done())
			return nil
		},
	}
}

func printResult(result domain.UploadResult) {
	fmt.Printf("Upload %s: %d rows, %d categorized, %d uncategorized\n",
		result.UploadID, result.TotalRows, result.CategorizedCount, result.UncategorizedCount)
	if len(result.FailedBatchIndices) > 0 {
		parts := make([]string, 0, len(result.FailedBatchIndices))
		for _, i := range result.FailedBatchIndices {
			parts = append(parts, fmt.Sprintf("%d", i))
		}
		fmt.Printf("Failed batches: %s (rows left uncategorized, re-run to retry)\n", strings.Join(parts, ", "))
	}
}
