package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
)

func newRuleCommand(cfgPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "rule <text>",
		Short: "Validate and register a free-text categorization rule",
		Long: `The rule text is validated by the model, resolved to a category
(and merchants, when named) and stored. Rules take absolute priority over
model inference during categorization.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := BuildApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := logger.WithContext(cmd.Context(), app.Log)
			text := strings.Join(args, " ")

			categories, err := app.Store.ListCategories(ctx, userID)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(categories))
			for _, c := range categories {
				names = append(names, c.Name)
			}

			v, err := app.Model.ValidateRule(ctx, text, names)
			if err != nil {
				return err
			}
			if !v.Valid {
				return fmt.Errorf("rule rejected: %s", v.Reason)
			}

			category, _, err := app.Store.GetOrCreateCategory(ctx, userID, v.Category)
			if err != nil {
				return err
			}

			// One stored rule per named merchant gives the pipeline its
			// merchant-bound fast path; a rule naming none stays unbound and
			// reaches the model as prompt text only.
			if len(v.Merchants) == 0 {
				rule := &domain.Rule{UserID: userID, Text: text, CategoryID: category.ID, IsActive: true}
				if err := app.Store.CreateRule(ctx, rule); err != nil {
					return err
				}
				fmt.Printf("Rule %s registered (category %s)\n", rule.ID, category.Name)
				return nil
			}
			for _, name := range v.Merchants {
				merchant, _, err := app.Store.GetOrCreateMerchant(ctx, userID, name)
				if err != nil {
					return err
				}
				rule := &domain.Rule{
					UserID:     userID,
					Text:       text,
					MerchantID: merchant.ID,
					CategoryID: category.ID,
					IsActive:   true,
				}
				if err := app.Store.CreateRule(ctx, rule); err != nil {
					return err
				}
				fmt.Printf("Rule %s registered (%s -> %s)\n", rule.ID, merchant.Name, category.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner of the rule (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
