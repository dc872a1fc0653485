// Пакет lifecycle — конечный автомат жизненного цикла статьи.
//
// Переходы:
//   - draft → submitted_for_review (submit): автор или manage_all_content
//   - submitted_for_review → approved (approve): approve_content
//   - submitted_for_review | approved → draft (reject): approve_content
//   - approved → published (publish): роль admin или owner
//
// published — конечное состояние цикла. Редактирование опубликованной статьи —
// изменение полей, а не переход.
//
// Пакет не выполняет I/O: Plan только проверяет правила и формирует
// условное изменение (compare-and-set по текущему статусу) для репозитория.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

// Action — триггер перехода (и имя действия в истории и журнале аудита).
type Action string

const (
	ActionCreate  Action = "create"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPublish Action = "publish"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
)

// DefaultRejectReason — текст причины, если при отклонении она не указана.
const DefaultRejectReason = "причина не указана"

// rejectNotePrefix — префикс записи истории при отклонении.
const rejectNotePrefix = "Отклонено: "

// Коды ошибок перехода.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeForbidden         = "FORBIDDEN"
)

// TransitionError — ошибка перехода жизненного цикла.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, FORBIDDEN)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// guardFunc — проверка права субъекта на переход для конкретной статьи.
type guardFunc func(actor *rbac.Principal, a *model.Article) error

// rule — описание перехода.
type rule struct {
	from  map[model.ArticleStatus]bool
	to    model.ArticleStatus
	guard guardFunc
}

// transitions — матрица допустимых переходов.
var transitions = map[Action]rule{
	ActionSubmit: {
		from:  map[model.ArticleStatus]bool{model.StatusDraft: true},
		to:    model.StatusSubmittedForReview,
		guard: authorOrCapability(rbac.CapManageAllContent),
	},
	ActionApprove: {
		from:  map[model.ArticleStatus]bool{model.StatusSubmittedForReview: true},
		to:    model.StatusApproved,
		guard: requireCapability(rbac.CapApproveContent),
	},
	ActionReject: {
		from: map[model.ArticleStatus]bool{
			model.StatusSubmittedForReview: true,
			model.StatusApproved:           true,
		},
		to:    model.StatusDraft,
		guard: requireCapability(rbac.CapApproveContent),
	},
	ActionPublish: {
		from:  map[model.ArticleStatus]bool{model.StatusApproved: true},
		to:    model.StatusPublished,
		guard: requireAnyRole(rbac.RoleAdmin, rbac.RoleOwner),
	},
}

// Plan проверяет переход и формирует условное изменение состояния.
//
// Порядок проверок: сначала права субъекта (FORBIDDEN), затем соответствие
// текущего статуса (INVALID_TRANSITION). Изменение содержит ожидаемый статус,
// по которому репозиторий выполнит compare-and-set.
func Plan(action Action, actor *rbac.Principal, a *model.Article, note string, now time.Time) (*model.StateChange, error) {
	r, ok := transitions[action]
	if !ok {
		return nil, &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("действие %q не является переходом", action),
		}
	}

	if err := r.guard(actor, a); err != nil {
		return nil, err
	}

	if !r.from[a.Status] {
		return nil, &TransitionError{
			Code: CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s из состояния %s недопустим",
				action, a.Status),
		}
	}

	now = now.UTC()
	change := &model.StateChange{
		ArticleID: a.ID,
		Expected:  a.Status,
		Target:    r.to,
		Published: r.to == model.StatusPublished,
		Entry: model.HistoryEntry{
			Action:    string(action),
			ActorID:   actor.UserID,
			Timestamp: now,
			Note:      strings.TrimSpace(note),
		},
	}

	switch action {
	case ActionSubmit:
		if a.SubmittedAt == nil {
			change.SetSubmittedAt = &now
		}
	case ActionApprove:
		if a.ApprovedAt == nil {
			change.SetApprovedAt = &now
		}
	case ActionPublish:
		if a.PublishedAt == nil {
			change.SetPublishedAt = &now
		}
	case ActionReject:
		change.Entry.Note = RejectNote(note)
	}

	return change, nil
}

// RejectNote формирует запись истории при отклонении.
func RejectNote(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectReason
	}
	return rejectNotePrefix + reason
}

// Apply применяет условное изменение к статье в памяти.
// Вызывается после успешной записи (или хранилищем без SQL).
func Apply(a *model.Article, c *model.StateChange) {
	a.Status = c.Target
	a.Published = c.Published
	a.History = append(a.History, c.Entry)
	if c.SetSubmittedAt != nil && a.SubmittedAt == nil {
		t := *c.SetSubmittedAt
		a.SubmittedAt = &t
	}
	if c.SetApprovedAt != nil && a.ApprovedAt == nil {
		t := *c.SetApprovedAt
		a.ApprovedAt = &t
	}
	if c.SetPublishedAt != nil && a.PublishedAt == nil {
		t := *c.SetPublishedAt
		a.PublishedAt = &t
	}
	a.UpdatedAt = c.Entry.Timestamp
}

// NewDraft формирует новую статью в состоянии draft с первой записью истории.
func NewDraft(actor *rbac.Principal, a *model.Article, now time.Time) error {
	if !actor.Can(rbac.CapManageOwnContent) {
		return &TransitionError{
			Code:    CodeForbidden,
			Message: "создание статей требует возможности manage_own_content",
		}
	}
	now = now.UTC()
	a.AuthorID = actor.UserID
	a.Status = model.StatusDraft
	a.Published = false
	a.SubmittedAt, a.ApprovedAt, a.PublishedAt = nil, nil, nil
	a.History = []model.HistoryEntry{{
		Action:    string(ActionCreate),
		ActorID:   actor.UserID,
		Timestamp: now,
	}}
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// CanEdit — правило редактирования полей: опубликованную статью может менять
// только владелец manage_all_content, остальные — автор или manage_all_content.
func CanEdit(actor *rbac.Principal, a *model.Article) error {
	if actor.Can(rbac.CapManageAllContent) {
		return nil
	}
	if a.Status == model.StatusPublished {
		return &TransitionError{
			Code:    CodeForbidden,
			Message: "опубликованную статью может изменять только пользователь с manage_all_content",
		}
	}
	if actor != nil && actor.UserID == a.AuthorID {
		return nil
	}
	return &TransitionError{
		Code:    CodeForbidden,
		Message: "изменять статью может только автор или пользователь с manage_all_content",
	}
}

// CanDelete — удаление разрешено автору или владельцу delete_content в любом статусе.
func CanDelete(actor *rbac.Principal, a *model.Article) error {
	if actor.Can(rbac.CapDeleteContent) {
		return nil
	}
	if actor != nil && actor.UserID == a.AuthorID {
		return nil
	}
	return &TransitionError{
		Code:    CodeForbidden,
		Message: "удалить статью может только автор или пользователь с delete_content",
	}
}

// CanView — опубликованные статьи видны всем; остальные — автору и модераторам.
func CanView(actor *rbac.Principal, a *model.Article) bool {
	if a.Status == model.StatusPublished {
		return true
	}
	if actor.Can(rbac.CapManageAllContent) || actor.Can(rbac.CapApproveContent) {
		return true
	}
	return actor != nil && actor.UserID == a.AuthorID
}

// --- Guards ---

func requireCapability(c rbac.Capability) guardFunc {
	return func(actor *rbac.Principal, _ *model.Article) error {
		if !actor.Can(c) {
			return &TransitionError{
				Code:    CodeForbidden,
				Message: fmt.Sprintf("недостаточно прав: требуется %s", c),
			}
		}
		return nil
	}
}

func requireAnyRole(roles ...rbac.Role) guardFunc {
	return func(actor *rbac.Principal, _ *model.Article) error {
		if !actor.HasAnyRole(roles...) {
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = string(r)
			}
			return &TransitionError{
				Code:    CodeForbidden,
				Message: fmt.Sprintf("недостаточно прав: требуется роль %s", strings.Join(names, " или ")),
			}
		}
		return nil
	}
}

func authorOrCapability(c rbac.Capability) guardFunc {
	return func(actor *rbac.Principal, a *model.Article) error {
		if actor != nil && actor.UserID == a.AuthorID {
			return nil
		}
		if actor.Can(c) {
			return nil
		}
		return &TransitionError{
			Code:    CodeForbidden,
			Message: fmt.Sprintf("действие доступно только автору или пользователю с %s", c),
		}
	}
}
