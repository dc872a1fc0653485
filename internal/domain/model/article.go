package model

import "time"

// ArticleStatus — состояние статьи в жизненном цикле публикации.
type ArticleStatus string

const (
	StatusDraft              ArticleStatus = "draft"
	StatusSubmittedForReview ArticleStatus = "submitted_for_review"
	StatusApproved           ArticleStatus = "approved"
	StatusPublished          ArticleStatus = "published"
)

// IsValid проверяет, является ли статус допустимым.
func (s ArticleStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmittedForReview, StatusApproved, StatusPublished:
		return true
	default:
		return false
	}
}

// HistoryEntry — запись локальной истории статьи (только добавление).
type HistoryEntry struct {
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Article — статья блога с жизненным циклом draft → submitted → approved → published.
type Article struct {
	ID       string
	Title    string
	Slug     string
	Body     string
	Excerpt  string
	Category string
	Tags     []string
	// Status — текущее состояние; меняется только переходами жизненного цикла
	Status ArticleStatus
	// Published — true тогда и только тогда, когда Status == published
	Published bool
	// AuthorID — неизменяемая ссылка на создателя
	AuthorID string
	// History — локальная история переходов
	History []HistoryEntry
	// SubmittedAt, ApprovedAt, PublishedAt — устанавливаются один раз соответствующим переходом
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ArticlePatch — частичное изменение полей статьи (не статуса).
type ArticlePatch struct {
	Title    *string
	Body     *string
	Excerpt  *string
	Category *string
	Tags     *[]string
}

// IsEmpty сообщает, что патч ничего не меняет.
func (p ArticlePatch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil && p.Excerpt == nil && p.Category == nil && p.Tags == nil
}

// Apply применяет патч к статье.
func (p ArticlePatch) Apply(a *Article) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Body != nil {
		a.Body = *p.Body
	}
	if p.Excerpt != nil {
		a.Excerpt = *p.Excerpt
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Tags != nil {
		a.Tags = append([]string(nil), (*p.Tags)...)
	}
}

// ArticleFilter — фильтр списка статей.
type ArticleFilter struct {
	Status   *ArticleStatus
	AuthorID *string
	Category *string
	Tag      *string
	// VisibleTo — ограничение видимости: свои статьи любого статуса + чужие опубликованные
	VisibleTo *string
}

// StateChange — условное изменение состояния статьи (compare-and-set по статусу).
type StateChange struct {
	ArticleID string
	// Expected — статус, который должен быть у статьи в момент записи
	Expected ArticleStatus
	// Target — новый статус
	Target ArticleStatus
	// Entry — запись истории, добавляемая в той же операции
	Entry HistoryEntry
	// Published — новое значение флага публикации
	Published bool
	// SetSubmittedAt, SetApprovedAt, SetPublishedAt — время, если переход его порождает
	SetSubmittedAt *time.Time
	SetApprovedAt  *time.Time
	SetPublishedAt *time.Time
}
