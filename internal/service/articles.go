// articles.go — статьи: CRUD и переходы жизненного цикла с историей,
// журналом аудита и рассылкой уведомлений.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/lifecycle"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

// Ограничения полей статьи.
const (
	maxTitleLen   = 200
	maxExcerptLen = 500
	maxTags       = 20
	maxTagLen     = 50
)

// notifyTimeout — предел времени на поиск получателей и сохранение уведомлений.
const notifyTimeout = 10 * time.Second

// Notifier — рассылка события получателям.
type Notifier interface {
	Notify(ctx context.Context, recipients []Recipient, event model.NotificationEvent) ([]*model.Notification, error)
}

// ArticleInput — поля новой статьи.
type ArticleInput struct {
	Title    string
	Body     string
	Excerpt  string
	Category string
	Tags     []string
}

// ArticleService — сервис статей.
type ArticleService struct {
	articles repository.ArticleRepository
	users    repository.UserRepository
	audit    AuditRecorder
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewArticleService создаёт сервис статей.
func NewArticleService(
	articles repository.ArticleRepository,
	users repository.UserRepository,
	audit AuditRecorder,
	notifier Notifier,
	logger *slog.Logger,
) *ArticleService {
	return &ArticleService{
		articles: articles,
		users:    users,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "article_service")),
		now:      time.Now,
	}
}

// Create создаёт статью в состоянии draft. Автор — субъект запроса.
func (s *ArticleService) Create(ctx context.Context, actor *rbac.Principal, in ArticleInput) (*model.Article, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}

	a := &model.Article{
		ID:       uuid.New().String(),
		Title:    strings.TrimSpace(in.Title),
		Body:     in.Body,
		Excerpt:  strings.TrimSpace(in.Excerpt),
		Category: strings.TrimSpace(in.Category),
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}
	a.Tags = tags
	if err := validateArticle(a); err != nil {
		return nil, err
	}

	if err := lifecycle.NewDraft(actor, a, s.now()); err != nil {
		return nil, translate(err)
	}
	a.Slug = articleSlug(a.Title, a.ID)

	if err := s.articles.Create(ctx, a); err != nil {
		return nil, translate(err)
	}

	s.audit.Record(ctx, model.ResourceArticle, a.ID, string(lifecycle.ActionCreate), actor.UserID, map[string]any{
		"title": a.Title,
	})
	return a, nil
}

// Get возвращает статью. Статья, недоступная субъекту, неотличима от отсутствующей.
func (s *ArticleService) Get(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error) {
	a, err := s.getArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanView(actor, a) {
		return nil, ErrNotFound
	}
	return a, nil
}

// List возвращает страницу статей и общее количество.
// Без manage_all_content и approve_content видны свои статьи и чужие опубликованные.
func (s *ArticleService) List(ctx context.Context, actor *rbac.Principal, filter model.ArticleFilter, limit, offset int) ([]*model.Article, int, error) {
	if actor == nil {
		return nil, 0, ErrUnauthenticated
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, 0, validationf("неизвестный статус %q", *filter.Status)
	}
	filter.VisibleTo = nil
	if !actor.Can(rbac.CapManageAllContent) && !actor.Can(rbac.CapApproveContent) {
		uid := actor.UserID
		filter.VisibleTo = &uid
	}
	limit, offset = NormalizePage(limit, offset)

	items, err := s.articles.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.articles.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update изменяет поля статьи. Статус не меняется.
func (s *ArticleService) Update(ctx context.Context, actor *rbac.Principal, id string, patch model.ArticlePatch) (*model.Article, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	if patch.IsEmpty() {
		return nil, validationf("нет изменяемых полей")
	}

	a, err := s.getArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanEdit(actor, a); err != nil {
		return nil, translate(err)
	}

	if patch.Tags != nil {
		tags, err := normalizeTags(*patch.Tags)
		if err != nil {
			return nil, err
		}
		patch.Tags = &tags
	}
	patch.Apply(a)
	a.Title = strings.TrimSpace(a.Title)
	a.Excerpt = strings.TrimSpace(a.Excerpt)
	a.Category = strings.TrimSpace(a.Category)
	if err := validateArticle(a); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := model.HistoryEntry{
		Action:    string(lifecycle.ActionUpdate),
		ActorID:   actor.UserID,
		Timestamp: now,
	}
	if err := s.articles.UpdateFields(ctx, a, a.Status, entry); err != nil {
		return nil, translate(err)
	}
	a.History = append(a.History, entry)
	a.UpdatedAt = now

	s.audit.Record(ctx, model.ResourceArticle, a.ID, string(lifecycle.ActionUpdate), actor.UserID, map[string]any{
		"status":  string(a.Status),
		"changed": patchedFields(patch),
	})
	return a, nil
}

// Delete удаляет статью безвозвратно.
func (s *ArticleService) Delete(ctx context.Context, actor *rbac.Principal, id string) error {
	if actor == nil {
		return ErrUnauthenticated
	}

	a, err := s.getArticle(ctx, id)
	if err != nil {
		return err
	}
	if err := lifecycle.CanDelete(actor, a); err != nil {
		return translate(err)
	}
	if err := s.articles.Delete(ctx, a.ID); err != nil {
		return translate(err)
	}

	s.audit.Record(ctx, model.ResourceArticle, a.ID, string(lifecycle.ActionDelete), actor.UserID, map[string]any{
		"title":     a.Title,
		"status":    string(a.Status),
		"author_id": a.AuthorID,
	})
	return nil
}

// History возвращает локальную историю статьи.
func (s *ArticleService) History(ctx context.Context, actor *rbac.Principal, id string) ([]model.HistoryEntry, error) {
	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if a.History == nil {
		return []model.HistoryEntry{}, nil
	}
	return a.History, nil
}

// Submit отправляет статью на проверку.
func (s *ArticleService) Submit(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error) {
	return s.Transition(ctx, actor, id, lifecycle.ActionSubmit, "")
}

// Approve одобряет статью.
func (s *ArticleService) Approve(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error) {
	return s.Transition(ctx, actor, id, lifecycle.ActionApprove, "")
}

// Reject возвращает статью в draft с причиной.
func (s *ArticleService) Reject(ctx context.Context, actor *rbac.Principal, id, reason string) (*model.Article, error) {
	return s.Transition(ctx, actor, id, lifecycle.ActionReject, reason)
}

// Publish публикует одобренную статью.
func (s *ArticleService) Publish(ctx context.Context, actor *rbac.Principal, id string) (*model.Article, error) {
	return s.Transition(ctx, actor, id, lifecycle.ActionPublish, "")
}

// Transition выполняет переход жизненного цикла.
//
// Порядок: проверка правил и условная запись (CAS по статусу), затем аудит
// и рассылка. Отказ на любом шаге до записи не оставляет ни изменения,
// ни записи аудита, ни уведомления. Ошибки аудита и рассылки не возвращаются.
func (s *ArticleService) Transition(ctx context.Context, actor *rbac.Principal, id string, action lifecycle.Action, note string) (*model.Article, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}

	a, err := s.getArticle(ctx, id)
	if err != nil {
		return nil, err
	}

	change, err := lifecycle.Plan(action, actor, a, note, s.now())
	if err != nil {
		lifecycleTransitionsTotal.WithLabelValues(string(action), "rejected").Inc()
		return nil, translate(err)
	}

	updated, err := s.articles.Transition(ctx, change)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			lifecycleTransitionsTotal.WithLabelValues(string(action), "lost_race").Inc()
			return nil, s.lostRace(ctx, action, a)
		}
		lifecycleTransitionsTotal.WithLabelValues(string(action), "error").Inc()
		return nil, translate(err)
	}
	lifecycleTransitionsTotal.WithLabelValues(string(action), "ok").Inc()

	meta := map[string]any{
		"from": string(change.Expected),
		"to":   string(change.Target),
	}
	if change.Entry.Note != "" {
		meta["note"] = change.Entry.Note
	}
	s.audit.Record(ctx, model.ResourceArticle, updated.ID, string(action), actor.UserID, meta)

	s.notifyTransition(ctx, actor, updated, action, note)

	s.logger.Info("Переход статьи выполнен",
		slog.String("article_id", updated.ID),
		slog.String("action", string(action)),
		slog.String("from", string(change.Expected)),
		slog.String("to", string(change.Target)),
		slog.String("actor_id", actor.UserID),
	)
	return updated, nil
}

// lostRace формирует ошибку для проигравшего параллельного перехода:
// статус уже изменён, переход из прочитанного состояния недопустим.
func (s *ArticleService) lostRace(ctx context.Context, action lifecycle.Action, read *model.Article) error {
	current, err := s.articles.GetByID(ctx, read.ID)
	if err != nil {
		return translate(err)
	}
	return fmt.Errorf("%w: статус статьи изменён параллельным запросом (%s → %s), переход %s недопустим",
		ErrInvalidTransition, read.Status, current.Status, action)
}

// notifyTransition рассылает уведомление о переходе.
// submit — всем активным admin и owner; остальные переходы — автору.
func (s *ArticleService) notifyTransition(ctx context.Context, actor *rbac.Principal, a *model.Article, action lifecycle.Action, note string) {
	// Переход уже зафиксирован: уведомления сохраняются и после отключения клиента.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	recipients, err := s.transitionRecipients(ctx, a, action)
	if err != nil {
		s.logger.Warn("Не удалось определить получателей уведомления",
			slog.String("article_id", a.ID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := transitionEvent(actor, a, action, note)
	if _, err := s.notifier.Notify(ctx, recipients, event); err != nil {
		s.logger.Error("Не удалось сохранить уведомления о переходе",
			slog.String("article_id", a.ID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ArticleService) transitionRecipients(ctx context.Context, a *model.Article, action lifecycle.Action) ([]Recipient, error) {
	if action == lifecycle.ActionSubmit {
		users, err := s.users.ListActiveByRoles(ctx, []rbac.Role{rbac.RoleAdmin, rbac.RoleOwner})
		if err != nil {
			return nil, err
		}
		out := make([]Recipient, 0, len(users))
		for _, u := range users {
			out = append(out, Recipient{UserID: u.ID, Email: u.Email})
		}
		return out, nil
	}

	author, err := s.users.GetByID(ctx, a.AuthorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !author.IsActive {
		return nil, nil
	}
	return []Recipient{{UserID: author.ID, Email: author.Email}}, nil
}

// transitionEvent формирует событие уведомления о переходе.
func transitionEvent(actor *rbac.Principal, a *model.Article, action lifecycle.Action, note string) model.NotificationEvent {
	data := map[string]any{
		"article_id": a.ID,
		"title":      a.Title,
		"status":     string(a.Status),
		"actor_id":   actor.UserID,
	}

	var typ, msg string
	switch action {
	case lifecycle.ActionSubmit:
		typ = model.NotifyArticleSubmitted
		msg = fmt.Sprintf("Статья «%s» отправлена на проверку", a.Title)
	case lifecycle.ActionApprove:
		typ = model.NotifyArticleApproved
		msg = fmt.Sprintf("Статья «%s» одобрена", a.Title)
	case lifecycle.ActionReject:
		typ = model.NotifyArticleRejected
		reason := strings.TrimSpace(note)
		if reason == "" {
			reason = lifecycle.DefaultRejectReason
		}
		data["reason"] = reason
		msg = fmt.Sprintf("Статья «%s» отклонена: %s", a.Title, reason)
	case lifecycle.ActionPublish:
		typ = model.NotifyArticlePublished
		msg = fmt.Sprintf("Статья «%s» опубликована", a.Title)
	default:
		typ = string(action)
		msg = fmt.Sprintf("Статья «%s»: %s", a.Title, action)
	}

	return model.NotificationEvent{
		Type:         typ,
		Message:      msg,
		Data:         data,
		EmailSubject: "BM Agency: " + msg,
		EmailBody:    msg + "\n\nСтатус: " + string(a.Status) + "\nИдентификатор статьи: " + a.ID + "\n",
	}
}

// --- Вспомогательные функции ---

func (s *ArticleService) getArticle(ctx context.Context, id string) (*model.Article, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	a, err := s.articles.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

func validateArticle(a *model.Article) error {
	if a.Title == "" {
		return validationf("заголовок не может быть пустым")
	}
	if len([]rune(a.Title)) > maxTitleLen {
		return validationf("заголовок не должен превышать %d символов", maxTitleLen)
	}
	if len([]rune(a.Excerpt)) > maxExcerptLen {
		return validationf("анонс не должен превышать %d символов", maxExcerptLen)
	}
	return nil
}

// normalizeTags приводит теги к нижнему регистру, убирает пустые и дубликаты.
func normalizeTags(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if len([]rune(t)) > maxTagLen {
			return nil, validationf("тег %q длиннее %d символов", t, maxTagLen)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, validationf("не более %d тегов", maxTags)
	}
	return out, nil
}

// articleSlug строит slug из заголовка и префикса ID (уникальность без запроса к БД).
func articleSlug(title, id string) string {
	base := slugify(title)
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if base == "" {
		return "article-" + suffix
	}
	return base + "-" + suffix
}

// slugify оставляет буквы и цифры в нижнем регистре, остальное заменяет дефисом.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if r := []rune(out); len(r) > 80 {
		out = strings.TrimSuffix(string(r[:80]), "-")
	}
	return out
}

func patchedFields(p model.ArticlePatch) []string {
	var out []string
	if p.Title != nil {
		out = append(out, "title")
	}
	if p.Body != nil {
		out = append(out, "body")
	}
	if p.Excerpt != nil {
		out = append(out, "excerpt")
	}
	if p.Category != nil {
		out = append(out, "category")
	}
	if p.Tags != nil {
		out = append(out, "tags")
	}
	return out
}
