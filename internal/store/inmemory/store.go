// Package inmemory is a mutex-guarded Store for tests and single-instance
// deployments. For multi-instance production use infra/bigquery.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/store"
)

// Store keeps everything in maps keyed by ID. All methods are safe for
// concurrent use.
type Store struct {
	mu sync.Mutex
	// txMu serializes RunInTransaction blocks so a rollback cannot undo
	// a sibling transaction's writes.
	txMu sync.Mutex

	transactions map[string]*domain.Transaction
	uploads      map[string]*domain.Upload
	merchants    map[string]*domain.Merchant // userID + "\x00" + normalized name
	categories   map[string]*domain.Category // userID + "\x00" + lowercased name
	rules        map[string]*domain.Rule
	structures   map[string]*domain.FileStructure // structure hash
	checksums    map[string]string                // userID + "\x00" + checksum -> uploadID

	// txnOrder preserves creation order for ListByUpload.
	txnOrder []string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		transactions: make(map[string]*domain.Transaction),
		uploads:      make(map[string]*domain.Upload),
		merchants:    make(map[string]*domain.Merchant),
		categories:   make(map[string]*domain.Category),
		rules:        make(map[string]*domain.Rule),
		structures:   make(map[string]*domain.FileStructure),
		checksums:    make(map[string]string),
	}
}

func scopedKey(userID, key string) string { return userID + "\x00" + key }

func cloneTxn(t *domain.Transaction) *domain.Transaction {
	c := *t
	return &c
}

// --- TransactionStore ---

func (s *Store) CreateTransactions(ctx context.Context, txs []*domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, t := range txs {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		s.transactions[t.ID] = cloneTxn(t)
		s.txnOrder = append(s.txnOrder, t.ID)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.UserID != userID {
		return nil, store.ErrNotOwned
	}
	return cloneTxn(t), nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(tx)
}

func (s *Store) updateLocked(tx *domain.Transaction) error {
	existing, ok := s.transactions[tx.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.UserID != tx.UserID {
		return store.ErrNotOwned
	}
	tx.UpdatedAt = time.Now()
	s.transactions[tx.ID] = cloneTxn(tx)
	return nil
}

func (s *Store) BulkUpdateTransactions(ctx context.Context, txs []*domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txs {
		if err := s.updateLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListByUpload(ctx context.Context, uploadID string) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Transaction
	for _, id := range s.txnOrder {
		if t, ok := s.transactions[id]; ok && t.UploadID == uploadID {
			out = append(out, cloneTxn(t))
		}
	}
	return out, nil
}

func (s *Store) ListCategorized(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID && t.Status == domain.StatusCategorized {
			out = append(out, cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TransactionDate.After(out[j].TransactionDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindDuplicate(ctx context.Context, userID, normalizedDescription string, date time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.UserID == userID &&
			t.Status == domain.StatusCategorized &&
			t.NormalizedDescription == normalizedDescription &&
			sameDay(t.TransactionDate, date) {
			return cloneTxn(t), nil
		}
	}
	return nil, store.ErrNotFound
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *Store) CountByUploadStatus(ctx context.Context, uploadID string) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p domain.Progress
	for _, t := range s.transactions {
		if t.UploadID != uploadID {
			continue
		}
		p.Total++
		switch t.Status {
		case domain.StatusPending:
			p.Pending++
		case domain.StatusProcessing:
			p.Processing++
		case domain.StatusCategorized:
			p.Categorized++
		case domain.StatusUncategorized:
			p.Uncategorized++
		}
	}
	return p, nil
}

// --- MerchantStore ---

func (s *Store) GetOrCreateMerchant(ctx context.Context, userID, name string) (*domain.Merchant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := domain.NormalizeName(name)
	key := scopedKey(userID, normalized)
	if m, ok := s.merchants[key]; ok {
		c := *m
		return &c, false, nil
	}
	m := &domain.Merchant{
		ID:             uuid.New().String(),
		UserID:         userID,
		Name:           name,
		NormalizedName: normalized,
		CreatedAt:      time.Now(),
	}
	s.merchants[key] = m
	c := *m
	return &c, true, nil
}

func (s *Store) GetMerchantByNormalizedName(ctx context.Context, userID, normalized string) (*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.merchants[scopedKey(userID, normalized)]; ok {
		c := *m
		return &c, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListMerchants(ctx context.Context, userID string) ([]*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Merchant
	for key, m := range s.merchants {
		if strings.HasPrefix(key, userID+"\x00") {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- CategoryStore ---

func (s *Store) GetOrCreateCategory(ctx context.Context, userID, name string) (*domain.Category, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(userID, strings.ToLower(strings.TrimSpace(name)))
	if c, ok := s.categories[key]; ok {
		cc := *c
		return &cc, false, nil
	}
	c := &domain.Category{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now(),
	}
	s.categories[key] = c
	cc := *c
	return &cc, true, nil
}

func (s *Store) ListCategories(ctx context.Context, userID string) ([]*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Category
	for key, c := range s.categories {
		if strings.HasPrefix(key, userID+"\x00") {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- RuleStore ---

func (s *Store) CreateRule(ctx context.Context, rule *domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	r := *rule
	s.rules[rule.ID] = &r
	return nil
}

func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Rule
	for _, r := range s.rules {
		if r.UserID == userID && r.IsActive {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- StructureStore ---

func (s *Store) GetStructure(ctx context.Context, hash string) (*domain.FileStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.structures[hash]; ok {
		c := *st
		return &c, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) SaveStructure(ctx context.Context, st *domain.FileStructure) (*domain.FileStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.structures[st.Hash]; ok {
		// First writer wins unless the stored structure is low-confidence
		// and the new one is not. Relearning goes through here too.
		if !existing.LowConfidence || st.LowConfidence {
			c := *existing
			return &c, nil
		}
	}
	now := time.Now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	c := *st
	s.structures[st.Hash] = &c
	out := c
	return &out, nil
}

// --- UploadStore ---

func (s *Store) CreateUpload(ctx context.Context, u *domain.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Checksum != "" {
		key := scopedKey(u.UserID, u.Checksum)
		if _, ok := s.checksums[key]; ok {
			return store.ErrDuplicate
		}
		s.checksums[key] = u.ID
	}
	if u.Status == "" {
		u.Status = domain.UploadStatusPending
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	c := *u
	s.uploads[u.ID] = &c
	return nil
}

func (s *Store) GetUpload(ctx context.Context, id string) (*domain.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.uploads[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateUpload(ctx context.Context, u *domain.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[u.ID]; !ok {
		return store.ErrNotFound
	}
	c := *u
	s.uploads[u.ID] = &c
	return nil
}

func (s *Store) ClaimUpload(ctx context.Context, id, owner string, grace time.Duration) (*domain.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := time.Now()

	if u.Status == domain.UploadStatusCompleted || u.Status == domain.UploadStatusFailed {
		return nil, store.ErrUploadLocked
	}
	if u.Owner != "" && u.Owner != owner && now.Sub(u.ClaimedAt) < grace {
		return nil, store.ErrUploadLocked
	}

	// One upload per user at a time.
	for _, other := range s.uploads {
		if other.ID == id || other.UserID != u.UserID {
			continue
		}
		if other.Status == domain.UploadStatusProcessing &&
			other.Owner != "" && other.Owner != owner &&
			now.Sub(other.ClaimedAt) < grace {
			return nil, store.ErrUploadLocked
		}
	}

	u.Status = domain.UploadStatusProcessing
	u.Owner = owner
	u.ClaimedAt = now
	c := *u
	return &c, nil
}

func (s *Store) ReleaseUpload(ctx context.Context, id, owner string, status domain.UploadStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Owner != owner {
		return store.ErrNotOwned
	}
	u.Owner = ""
	u.Status = status
	u.Error = errMsg
	if status == domain.UploadStatusCompleted || status == domain.UploadStatusFailed {
		u.CompletedAt = time.Now()
	}
	return nil
}

func (s *Store) ListStuckUploads(ctx context.Context, grace time.Duration) ([]*domain.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*domain.Upload
	for _, u := range s.uploads {
		if u.Status == domain.UploadStatusProcessing && now.Sub(u.ClaimedAt) >= grace {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(out[j].ClaimedAt) })
	return out, nil
}

// --- transactions ---

// RunInTransaction snapshots the whole store, runs fn, and restores the
// snapshot if fn fails. Transactions are serialized.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	transactions map[string]*domain.Transaction
	uploads      map[string]*domain.Upload
	merchants    map[string]*domain.Merchant
	categories   map[string]*domain.Category
	rules        map[string]*domain.Rule
	structures   map[string]*domain.FileStructure
	checksums    map[string]string
	txnOrder     []string
}

func (s *Store) snapshot() *snapshotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &snapshotState{
		transactions: make(map[string]*domain.Transaction, len(s.transactions)),
		uploads:      make(map[string]*domain.Upload, len(s.uploads)),
		merchants:    make(map[string]*domain.Merchant, len(s.merchants)),
		categories:   make(map[string]*domain.Category, len(s.categories)),
		rules:        make(map[string]*domain.Rule, len(s.rules)),
		structures:   make(map[string]*domain.FileStructure, len(s.structures)),
		checksums:    make(map[string]string, len(s.checksums)),
		txnOrder:     append([]string(nil), s.txnOrder...),
	}
	for k, v := range s.transactions {
		snap.transactions[k] = cloneTxn(v)
	}
	for k, v := range s.uploads {
		c := *v
		snap.uploads[k] = &c
	}
	for k, v := range s.merchants {
		c := *v
		snap.merchants[k] = &c
	}
	for k, v := range s.categories {
		c := *v
		snap.categories[k] = &c
	}
	for k, v := range s.rules {
		c := *v
		snap.rules[k] = &c
	}
	for k, v := range s.structures {
		c := *v
		snap.structures[k] = &c
	}
	for k, v := range s.checksums {
		snap.checksums[k] = v
	}
	return snap
}

func (s *Store) restore(snap *snapshotState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = snap.transactions
	s.uploads = snap.uploads
	s.merchants = snap.merchants
	s.categories = snap.categories
	s.rules = snap.rules
	s.structures = snap.structures
	s.checksums = snap.checksums
	s.txnOrder = snap.txnOrder
}

var _ store.Store = (*Store)(nil)
