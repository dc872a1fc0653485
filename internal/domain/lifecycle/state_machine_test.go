package lifecycle

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
)

func principal(t *testing.T, id string, roles ...rbac.Role) *rbac.Principal {
	t.Helper()
	p, err := rbac.NewPrincipal(id, id+"@bm.test", id, roles)
	if err != nil {
		t.Fatalf("NewPrincipal: %v", err)
	}
	return p
}

func article(status model.ArticleStatus, author string) *model.Article {
	return &model.Article{ID: "art-1", Title: "Заголовок", Status: status, AuthorID: author, Published: status == model.StatusPublished}
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("ожидалась TransitionError(%s), получено %v", code, err)
	}
	if te.Code != code {
		t.Fatalf("ожидался код %s, получен %s (%s)", code, te.Code, te.Message)
	}
}

// TestPlan_Matrix проверяет матрицу переходов для пользователя со всеми правами.
func TestPlan_Matrix(t *testing.T) {
	owner := principal(t, "owner", rbac.RoleOwner)
	now := time.Now()

	statuses := []model.ArticleStatus{
		model.StatusDraft, model.StatusSubmittedForReview, model.StatusApproved, model.StatusPublished,
	}
	allowed := map[Action]map[model.ArticleStatus]model.ArticleStatus{
		ActionSubmit:  {model.StatusDraft: model.StatusSubmittedForReview},
		ActionApprove: {model.StatusSubmittedForReview: model.StatusApproved},
		ActionReject:  {model.StatusSubmittedForReview: model.StatusDraft, model.StatusApproved: model.StatusDraft},
		ActionPublish: {model.StatusApproved: model.StatusPublished},
	}

	for action, edges := range allowed {
		for _, from := range statuses {
			a := article(from, "someone")
			change, err := Plan(action, owner, a, "", now)
			to, ok := edges[from]
			if !ok {
				wantCode(t, err, CodeInvalidTransition)
				continue
			}
			if err != nil {
				t.Errorf("%s из %s: неожиданная ошибка %v", action, from, err)
				continue
			}
			if change.Expected != from || change.Target != to {
				t.Errorf("%s из %s: изменение %s → %s, хотели %s → %s",
					action, from, change.Expected, change.Target, from, to)
			}
			if change.Published != (to == model.StatusPublished) {
				t.Errorf("%s: Published=%v при целевом статусе %s", action, change.Published, to)
			}
		}
	}
}

func TestPlan_NotATransition(t *testing.T) {
	owner := principal(t, "owner", rbac.RoleOwner)
	_, err := Plan(ActionDelete, owner, article(model.StatusDraft, "x"), "", time.Now())
	wantCode(t, err, CodeInvalidTransition)
}

func TestPlan_Guards(t *testing.T) {
	author := principal(t, "author-1", rbac.RoleAuthor)
	otherAuthor := principal(t, "author-2", rbac.RoleAuthor)
	editor := principal(t, "editor-1", rbac.RoleEditor)
	admin := principal(t, "admin-1", rbac.RoleAdmin)

	tests := []struct {
		name    string
		action  Action
		actor   *rbac.Principal
		status  model.ArticleStatus
		wantErr string
	}{
		{"автор отправляет свою статью", ActionSubmit, author, model.StatusDraft, ""},
		{"чужой автор не может отправить", ActionSubmit, otherAuthor, model.StatusDraft, CodeForbidden},
		{"editor отправляет чужую статью", ActionSubmit, editor, model.StatusDraft, ""},
		{"автор не может одобрить", ActionApprove, author, model.StatusSubmittedForReview, CodeForbidden},
		{"editor одобряет", ActionApprove, editor, model.StatusSubmittedForReview, ""},
		{"editor отклоняет одобренную", ActionReject, editor, model.StatusApproved, ""},
		{"автор не может публиковать одобренную", ActionPublish, author, model.StatusApproved, CodeForbidden},
		{"editor не может публиковать", ActionPublish, editor, model.StatusApproved, CodeForbidden},
		{"admin публикует", ActionPublish, admin, model.StatusApproved, ""},
		{"admin публикует черновик", ActionPublish, admin, model.StatusDraft, CodeInvalidTransition},
		{"без субъекта", ActionSubmit, nil, model.StatusDraft, CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.action, tt.actor, article(tt.status, "author-1"), "", time.Now())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				return
			}
			wantCode(t, err, tt.wantErr)
		})
	}
}

func TestPlan_Timestamps(t *testing.T) {
	admin := principal(t, "admin-1", rbac.RoleAdmin)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	a := article(model.StatusDraft, "admin-1")
	steps := []Action{ActionSubmit, ActionApprove, ActionPublish}
	for _, step := range steps {
		change, err := Plan(step, admin, a, "", now)
		if err != nil {
			t.Fatalf("%s: %v", step, err)
		}
		Apply(a, change)
	}

	if a.SubmittedAt == nil || a.ApprovedAt == nil || a.PublishedAt == nil {
		t.Fatal("все три временные метки должны быть установлены")
	}
	if !a.Published || a.Status != model.StatusPublished {
		t.Errorf("после publish: Published=%v, Status=%s", a.Published, a.Status)
	}
	if len(a.History) != 3 {
		t.Fatalf("ожидалось 3 записи истории, получено %d", len(a.History))
	}
	for i, step := range steps {
		if a.History[i].Action != string(step) || a.History[i].ActorID != "admin-1" || a.History[i].Timestamp.IsZero() {
			t.Errorf("запись истории %d: %+v", i, a.History[i])
		}
	}
}

// TestPlan_TimestampsSetOnce проверяет, что повторный цикл не перезаписывает submittedAt.
func TestPlan_TimestampsSetOnce(t *testing.T) {
	editor := principal(t, "editor-1", rbac.RoleEditor)
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := article(model.StatusDraft, "editor-1")
	change, _ := Plan(ActionSubmit, editor, a, "", first)
	Apply(a, change)
	change, _ = Plan(ActionReject, editor, a, "", first.Add(time.Hour))
	Apply(a, change)
	change, err := Plan(ActionSubmit, editor, a, "", first.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("повторная отправка: %v", err)
	}
	if change.SetSubmittedAt != nil {
		t.Error("submittedAt не должен устанавливаться повторно")
	}
	Apply(a, change)
	if !a.SubmittedAt.Equal(first) {
		t.Errorf("SubmittedAt = %v, хотели %v", a.SubmittedAt, first)
	}
}

func TestRejectNote(t *testing.T) {
	if got := RejectNote(""); !strings.Contains(got, DefaultRejectReason) {
		t.Errorf("RejectNote(\"\") = %q, должен содержать %q", got, DefaultRejectReason)
	}
	reason := "нет источников в третьем абзаце"
	if got := RejectNote(reason); !strings.Contains(got, reason) {
		t.Errorf("RejectNote = %q, должен содержать причину", got)
	}
}

func TestNewDraft(t *testing.T) {
	author := principal(t, "author-1", rbac.RoleAuthor)
	a := &model.Article{Title: "Новая", Status: model.StatusPublished, Published: true}
	if err := NewDraft(author, a, time.Now()); err != nil {
		t.Fatalf("NewDraft: %v", err)
	}
	if a.Status != model.StatusDraft || a.Published || a.AuthorID != "author-1" || len(a.History) != 1 {
		t.Errorf("черновик сформирован неверно: %+v", a)
	}

	var nobody *rbac.Principal
	wantCode(t, NewDraft(nobody, &model.Article{}, time.Now()), CodeForbidden)
}

func TestCanEdit(t *testing.T) {
	author := principal(t, "author-1", rbac.RoleAuthor)
	editor := principal(t, "editor-1", rbac.RoleEditor)

	if err := CanEdit(author, article(model.StatusDraft, "author-1")); err != nil {
		t.Errorf("автор должен редактировать свой черновик: %v", err)
	}
	wantCode(t, CanEdit(author, article(model.StatusPublished, "author-1")), CodeForbidden)
	wantCode(t, CanEdit(author, article(model.StatusDraft, "author-2")), CodeForbidden)
	if err := CanEdit(editor, article(model.StatusPublished, "author-1")); err != nil {
		t.Errorf("manage_all_content может редактировать опубликованную: %v", err)
	}
}

func TestCanDelete(t *testing.T) {
	author := principal(t, "author-1", rbac.RoleAuthor)
	editor := principal(t, "editor-1", rbac.RoleEditor)
	admin := principal(t, "admin-1", rbac.RoleAdmin)

	if err := CanDelete(author, article(model.StatusPublished, "author-1")); err != nil {
		t.Errorf("автор удаляет свою статью в любом статусе: %v", err)
	}
	wantCode(t, CanDelete(editor, article(model.StatusDraft, "author-1")), CodeForbidden)
	if err := CanDelete(admin, article(model.StatusApproved, "author-1")); err != nil {
		t.Errorf("delete_content удаляет любую статью: %v", err)
	}
}

func TestCanView(t *testing.T) {
	author := principal(t, "author-1", rbac.RoleAuthor)
	if !CanView(author, article(model.StatusPublished, "author-2")) {
		t.Error("опубликованная статья видна всем")
	}
	if CanView(author, article(model.StatusDraft, "author-2")) {
		t.Error("чужой черновик не виден автору")
	}
	if !CanView(author, article(model.StatusDraft, "author-1")) {
		t.Error("свой черновик виден")
	}
}
