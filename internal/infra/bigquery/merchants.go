package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/store"
)

// GetOrCreateMerchant relies on MERGE for atomicity: two concurrent calls
// normalizing to the same key land on a single row.
func (s *Store) GetOrCreateMerchant(ctx context.Context, userID, name string) (*domain.Merchant, bool, error) {
	normalized := domain.NormalizeName(name)
	query := fmt.Sprintf(`
		MERGE %s m
		USING (SELECT @id AS merchant_id, @user_id AS user_id, @name AS name,
		              @normalized AS normalized_name) src
		ON m.user_id = src.user_id AND m.normalized_name = src.normalized_name
		WHEN NOT MATCHED THEN
		  INSERT (merchant_id, user_id, name, normalized_name, created_ts)
		  VALUES (src.merchant_id, src.user_id, src.name, src.normalized_name, CURRENT_TIMESTAMP())
	`, s.table(merchantsTable))
	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: uuid.New().String()},
		{Name: "user_id", Value: userID},
		{Name: "name", Value: name},
		{Name: "normalized", Value: normalized},
	})
	if err != nil {
		return nil, false, fmt.Errorf("GetOrCreateMerchant: %w", err)
	}

	merchant, err := s.GetMerchantByNormalizedName(ctx, userID, normalized)
	if err != nil {
		return nil, false, fmt.Errorf("GetOrCreateMerchant: read back: %w", err)
	}
	return merchant, affected > 0, nil
}

func (s *Store) GetMerchantByNormalizedName(ctx context.Context, userID, normalized string) (*domain.Merchant, error) {
	query := fmt.Sprintf(`
		SELECT merchant_id, user_id, name, normalized_name, created_ts
		FROM %s
		WHERE user_id = @user_id AND normalized_name = @normalized
		LIMIT 1
	`, s.table(merchantsTable))
	merchants, err := s.queryMerchants(ctx, query, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "normalized", Value: normalized},
	})
	if err != nil {
		return nil, fmt.Errorf("GetMerchantByNormalizedName: %w", err)
	}
	if len(merchants) == 0 {
		return nil, store.ErrNotFound
	}
	return merchants[0], nil
}

func (s *Store) ListMerchants(ctx context.Context, userID string) ([]*domain.Merchant, error) {
	query := fmt.Sprintf(`
		SELECT merchant_id, user_id, name, normalized_name, created_ts
		FROM %s
		WHERE user_id = @user_id
		ORDER BY name
	`, s.table(merchantsTable))
	merchants, err := s.queryMerchants(ctx, query, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("ListMerchants: %w", err)
	}
	return merchants, nil
}

func (s *Store) queryMerchants(ctx context.Context, query string, params []bigquery.QueryParameter) ([]*domain.Merchant, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}
	var out []*domain.Merchant
	for {
		var r MerchantRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		out = append(out, &domain.Merchant{
			ID:             r.MerchantID,
			UserID:         r.UserID,
			Name:           r.Name,
			NormalizedName: r.NormalizedName,
			CreatedAt:      r.CreatedTS,
		})
	}
	return out, nil
}

// GetOrCreateCategory matches on the exact name, not a normalization:
// category names are the model-facing vocabulary and stay verbatim.
func (s *Store) GetOrCreateCategory(ctx context.Context, userID, name string) (*domain.Category, bool, error) {
	query := fmt.Sprintf(`
		MERGE %s c
		USING (SELECT @id AS category_id, @user_id AS user_id, @name AS name) src
		ON c.user_id = src.user_id AND c.name = src.name
		WHEN NOT MATCHED THEN
		  INSERT (category_id, user_id, name, is_default, created_ts)
		  VALUES (src.category_id, src.user_id, src.name, FALSE, CURRENT_TIMESTAMP())
	`, s.table(categoriesTable))
	affected, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: uuid.New().String()},
		{Name: "user_id", Value: userID},
		{Name: "name", Value: name},
	})
	if err != nil {
		return nil, false, fmt.Errorf("GetOrCreateCategory: %w", err)
	}

	categories, err := s.ListCategories(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("GetOrCreateCategory: read back: %w", err)
	}
	for _, c := range categories {
		if c.Name == name {
			return c, affected > 0, nil
		}
	}
	return nil, false, fmt.Errorf("GetOrCreateCategory: %q not found after merge", name)
}

func (s *Store) ListCategories(ctx context.Context, userID string) ([]*domain.Category, error) {
	query := fmt.Sprintf(`
		SELECT category_id, user_id, name, is_default, created_ts
		FROM %s
		WHERE user_id = @user_id
		ORDER BY name
	`, s.table(categoriesTable))
	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query read: %w", err)
	}
	var out []*domain.Category
	for {
		var r CategoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListCategories: iter next: %w", err)
		}
		out = append(out, &domain.Category{
			ID:        r.CategoryID,
			UserID:    r.UserID,
			Name:      r.Name,
			IsDefault: r.IsDefault,
			CreatedAt: r.CreatedTS,
		})
	}
	return out, nil
}

func (s *Store) CreateRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (rule_id, user_id, text, merchant_id, category_id, is_active, created_ts)
		VALUES (@id, @user_id, @text, @merchant_id, @category_id, @is_active, CURRENT_TIMESTAMP())
	`, s.table(rulesTable))
	if _, err := s.runDML(ctx, query, []bigquery.QueryParameter{
		{Name: "id", Value: rule.ID},
		{Name: "user_id", Value: rule.UserID},
		{Name: "text", Value: rule.Text},
		{Name: "merchant_id", Value: nullString(rule.MerchantID)},
		{Name: "category_id", Value: nullString(rule.CategoryID)},
		{Name: "is_active", Value: rule.IsActive},
	}); err != nil {
		return fmt.Errorf("CreateRule: %w", err)
	}
	return nil
}

func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]*domain.Rule, error) {
	query := fmt.Sprintf(`
		SELECT rule_id, user_id, text, merchant_id, category_id, is_active, created_ts
		FROM %s
		WHERE user_id = @user_id AND is_active = TRUE
		ORDER BY created_ts
	`, s.table(rulesTable))
	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveRules: query read: %w", err)
	}
	var out []*domain.Rule
	for {
		var r RuleRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveRules: iter next: %w", err)
		}
		out = append(out, &domain.Rule{
			ID:         r.RuleID,
			UserID:     r.UserID,
			Text:       r.Text,
			MerchantID: r.MerchantID.StringVal,
			CategoryID: r.CategoryID.StringVal,
			IsActive:   r.IsActive,
			CreatedAt:  r.CreatedTS,
		})
	}
	return out, nil
}
