package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/lifecycle"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errStorage = errors.New("хранилище недоступно")

// --- Пользователи ---

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Roles = append([]rbac.Role(nil), u.Roles...)
	c.Permissions = append([]rbac.Capability(nil), u.Permissions...)
	return &c
}

func (r *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	r.users[u.ID] = cloneUser(u)
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) filtered(filter model.UserFilter) []*model.User {
	var out []*model.User
	for _, u := range r.users {
		if filter.Role != nil && !rbac.ContainsRole(u.Roles, *filter.Role) {
			continue
		}
		if filter.Active != nil && u.IsActive != *filter.Active {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (r *fakeUserRepo) List(_ context.Context, filter model.UserFilter, limit, offset int) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.filtered(filter)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r *fakeUserRepo) Count(_ context.Context, filter model.UserFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filtered(filter)), nil
}

func (r *fakeUserRepo) ListActiveByRoles(ctx context.Context, roles []rbac.Role) ([]*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.User
	for _, u := range r.users {
		if !u.IsActive {
			continue
		}
		for _, role := range roles {
			if rbac.ContainsRole(u.Roles, role) {
				out = append(out, cloneUser(u))
				break
			}
		}
	}
	return out, nil
}

func (r *fakeUserRepo) UpdateRoles(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Roles = append([]rbac.Role(nil), u.Roles...)
	existing.Permissions = append([]rbac.Capability(nil), u.Permissions...)
	return nil
}

func (r *fakeUserRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) CountByRole(_ context.Context, role rbac.Role) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.users {
		if rbac.ContainsRole(u.Roles, role) {
			n++
		}
	}
	return n, nil
}

// RemoveUser реализует UserRemover поверх двух фейков.
type fakeRemover struct {
	users         *fakeUserRepo
	notifications *fakeNotificationRepo
}

func (r *fakeRemover) RemoveUser(ctx context.Context, userID string) error {
	if _, err := r.notifications.DeleteByRecipient(ctx, userID); err != nil {
		return err
	}
	return r.users.Delete(ctx, userID)
}

// --- Статьи ---

type fakeArticleRepo struct {
	mu       sync.Mutex
	articles map[string]*model.Article
	// beforeTransition вызывается перед compare-and-set (для имитации гонки)
	beforeTransition func()
}

func newFakeArticleRepo() *fakeArticleRepo {
	return &fakeArticleRepo{articles: make(map[string]*model.Article)}
}

func cloneArticle(a *model.Article) *model.Article {
	c := *a
	c.Tags = append([]string(nil), a.Tags...)
	c.History = append([]model.HistoryEntry(nil), a.History...)
	return &c
}

func (r *fakeArticleRepo) Create(_ context.Context, a *model.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.articles[a.ID] = cloneArticle(a)
	return nil
}

func (r *fakeArticleRepo) GetByID(_ context.Context, id string) (*model.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.articles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneArticle(a), nil
}

func (r *fakeArticleRepo) filtered(f model.ArticleFilter) []*model.Article {
	var out []*model.Article
	for _, a := range r.articles {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.AuthorID != nil && a.AuthorID != *f.AuthorID {
			continue
		}
		if f.VisibleTo != nil && a.Status != model.StatusPublished && a.AuthorID != *f.VisibleTo {
			continue
		}
		out = append(out, cloneArticle(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeArticleRepo) List(_ context.Context, f model.ArticleFilter, limit, offset int) ([]*model.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.filtered(f)
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (r *fakeArticleRepo) Count(_ context.Context, f model.ArticleFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filtered(f)), nil
}

func (r *fakeArticleRepo) UpdateFields(_ context.Context, a *model.Article, expected model.ArticleStatus, entry model.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.articles[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != expected {
		return repository.ErrStaleState
	}
	stored.Title, stored.Body, stored.Excerpt, stored.Category = a.Title, a.Body, a.Excerpt, a.Category
	stored.Tags = append([]string(nil), a.Tags...)
	stored.History = append(stored.History, entry)
	stored.UpdatedAt = entry.Timestamp
	return nil
}

func (r *fakeArticleRepo) Transition(_ context.Context, c *model.StateChange) (*model.Article, error) {
	if r.beforeTransition != nil {
		r.beforeTransition()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.articles[c.ArticleID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if stored.Status != c.Expected {
		return nil, repository.ErrStaleState
	}
	lifecycle.Apply(stored, c)
	return cloneArticle(stored), nil
}

func (r *fakeArticleRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.articles[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.articles, id)
	return nil
}

func (r *fakeArticleRepo) GetAuthorID(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.articles[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return a.AuthorID, nil
}

// --- Аудит ---

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
	fail    bool
}

func (r *fakeAuditRepo) Insert(_ context.Context, e *model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errStorage
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeAuditRepo) match(f model.AuditFilter, e *model.AuditEntry) bool {
	switch {
	case f.ResourceType != nil && e.ResourceType != *f.ResourceType:
		return false
	case f.ResourceID != nil && e.ResourceID != *f.ResourceID:
		return false
	case f.ActorID != nil && e.ActorID != *f.ActorID:
		return false
	case f.Action != nil && e.Action != *f.Action:
		return false
	}
	return true
}

func (r *fakeAuditRepo) List(_ context.Context, f model.AuditFilter, limit, offset int) ([]*model.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AuditEntry
	for _, e := range r.entries {
		if r.match(f, e) {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (r *fakeAuditRepo) Count(ctx context.Context, f model.AuditFilter) (int, error) {
	items, err := r.List(ctx, f, 1<<30, 0)
	return len(items), err
}

func (r *fakeAuditRepo) Stats(_ context.Context, groupBy model.AuditGroupBy, since time.Time) ([]model.AuditCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{}
	for _, e := range r.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		key := e.Action
		if groupBy == model.GroupByResourceType {
			key = e.ResourceType
		}
		counts[key]++
	}
	var out []model.AuditCount
	for k, n := range counts {
		out = append(out, model.AuditCount{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// actions возвращает действия по ресурсу в порядке записи.
func (r *fakeAuditRepo) actions(resourceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.ResourceID == resourceID {
			out = append(out, e.Action)
		}
	}
	return out
}

// --- Уведомления ---

type fakeNotificationRepo struct {
	mu    sync.Mutex
	items []*model.Notification
	fail  bool
}

func (r *fakeNotificationRepo) InsertMany(ctx context.Context, items []*model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errStorage
	}
	for _, n := range items {
		c := *n
		r.items = append(r.items, &c)
	}
	return nil
}

func (r *fakeNotificationRepo) ListByRecipient(_ context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Notification
	for _, n := range r.items {
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (r *fakeNotificationRepo) CountByRecipient(ctx context.Context, recipientID string, unreadOnly bool) (int, error) {
	items, err := r.ListByRecipient(ctx, recipientID, unreadOnly, 1<<30, 0)
	return len(items), err
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.items {
		if n.ID == id && n.RecipientID == recipientID {
			n.Read = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeNotificationRepo) MarkAllRead(_ context.Context, recipientID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.RecipientID == recipientID && !item.Read {
			item.Read = true
			n++
		}
	}
	return n, nil
}

func (r *fakeNotificationRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.items {
		if n.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeNotificationRepo) DeleteByRecipient(_ context.Context, recipientID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	removed := 0
	for _, n := range r.items {
		if n.RecipientID == recipientID {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	r.items = kept
	return removed, nil
}

func (r *fakeNotificationRepo) GetRecipientID(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.items {
		if n.ID == id {
			return n.RecipientID, nil
		}
	}
	return "", repository.ErrNotFound
}

// countFor возвращает число уведомлений получателя.
func (r *fakeNotificationRepo) countFor(recipientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.RecipientID == recipientID {
			n++
		}
	}
	return n
}

func (r *fakeNotificationRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// --- Каналы доставки ---

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeLive struct {
	mu        sync.Mutex
	online    map[string]bool
	delivered []string
	panics    bool
}

func (l *fakeLive) NotifyUser(userID string, _ *model.Notification) bool {
	if l.panics {
		panic("live-канал сломан")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.online[userID] {
		return false
	}
	l.delivered = append(l.delivered, userID)
	return true
}

func (l *fakeLive) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.delivered)
}

// --- Сборка окружения ---

type testEnv struct {
	users         *fakeUserRepo
	articles      *fakeArticleRepo
	audit         *fakeAuditRepo
	notifications *fakeNotificationRepo
	mail          *fakeMailer
	live          *fakeLive

	dispatcher *NotificationDispatcher
	userSvc    *UserService
	articleSvc *ArticleService
	auditSvc   *AuditService
	notifSvc   *NotificationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:         newFakeUserRepo(),
		articles:      newFakeArticleRepo(),
		audit:         &fakeAuditRepo{},
		notifications: &fakeNotificationRepo{},
		mail:          &fakeMailer{},
		live:          &fakeLive{online: map[string]bool{}},
	}
	logger := testLogger()

	env.auditSvc = NewAuditService(env.audit, logger)
	env.dispatcher = NewNotificationDispatcher(env.notifications, env.live, env.mail, logger)
	env.userSvc = NewUserService(
		env.users,
		&fakeRemover{users: env.users, notifications: env.notifications},
		env.auditSvc,
		NewPrincipalCache(100, time.Minute),
		NewTokenIssuer("test-secret-test-secret-test-secret", "bm-agency", time.Hour),
		bcrypt.MinCost,
		logger,
	)
	env.articleSvc = NewArticleService(env.articles, env.users, env.auditSvc, env.dispatcher, logger)
	env.notifSvc = NewNotificationService(env.notifications, logger)

	t.Cleanup(env.dispatcher.Wait)
	return env
}

// addUser создаёт пользователя напрямую в хранилище и возвращает его субъекта.
func (env *testEnv) addUser(t *testing.T, email string, roles ...rbac.Role) (*model.User, *rbac.Principal) {
	t.Helper()
	u, err := env.userSvc.newUser(email, "password-123", email, roles)
	if err != nil {
		t.Fatalf("newUser(%s): %v", email, err)
	}
	if err := env.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create(%s): %v", email, err)
	}
	p, err := u.Principal()
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	return u, p
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("ошибка = %v, хотели %v", err, target)
	}
}

// --- Настройки ---

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]*model.Setting
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{settings: make(map[string]*model.Setting)}
}

func (r *fakeSettingsRepo) Get(_ context.Context, key string) (*model.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *fakeSettingsRepo) Set(_ context.Context, key, value, updatedBy string) (*model.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.Setting{Key: key, Value: value, UpdatedBy: updatedBy, UpdatedAt: time.Now().UTC()}
	r.settings[key] = s
	c := *s
	return &c, nil
}

func (r *fakeSettingsRepo) List(_ context.Context, prefix string) ([]*model.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Setting
	for k, s := range r.settings {
		if strings.HasPrefix(k, prefix) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *fakeSettingsRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.settings[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.settings, key)
	return nil
}
