// articles.go — обработчики /api/v1/articles endpoints.
// CRUD статей, переходы жизненного цикла и локальная история.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/russeltsague/BM-Agency-sub000/internal/api/errors"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/markdown"
	"github.com/russeltsague/BM-Agency-sub000/internal/service"
)

type articleCreateRequest struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Excerpt  string   `json:"excerpt"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

type articleUpdateRequest struct {
	Title    *string   `json:"title"`
	Body     *string   `json:"body"`
	Excerpt  *string   `json:"excerpt"`
	Category *string   `json:"category"`
	Tags     *[]string `json:"tags"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// CreateArticle — POST /api/v1/articles.
// Статья создаётся в статусе draft, автор — текущий пользователь.
func (h *APIHandler) CreateArticle(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req articleCreateRequest
	if !bindJSON(w, r, &req) {
		return
	}

	a, err := h.articles.Create(r.Context(), p, service.ArticleInput{
		Title:    req.Title,
		Body:     req.Body,
		Excerpt:  req.Excerpt,
		Category: req.Category,
		Tags:     req.Tags,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, mapArticle(a))
}

// ListArticles — GET /api/v1/articles?status=&author_id=&category=&tag=&limit=&offset=.
func (h *APIHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	filter := model.ArticleFilter{
		AuthorID: queryString(r, "author_id"),
		Category: queryString(r, "category"),
		Tag:      queryString(r, "tag"),
	}
	if raw := queryString(r, "status"); raw != nil {
		status := model.ArticleStatus(*raw)
		filter.Status = &status
	}

	items, total, err := h.articles.List(r.Context(), p, filter, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, newListResponse(mapSlice(items, mapArticle), total, limit, offset))
}

// GetArticle — GET /api/v1/articles/{id}.
// ?format=html дополнительно возвращает body_html.
func (h *APIHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "html" {
		apierrors.ValidationError(w, "format: допустимо только html")
		return
	}

	a, err := h.articles.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}

	dto := mapArticle(a)
	if format == "html" {
		if dto.BodyHTML, err = markdown.ToHTML(a.Body); err != nil {
			h.fail(w, err)
			return
		}
	}
	apierrors.WriteSuccess(w, http.StatusOK, dto)
}

// UpdateArticle — PATCH /api/v1/articles/{id}.
// Меняет только переданные поля, статус не затрагивается.
func (h *APIHandler) UpdateArticle(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	var req articleUpdateRequest
	if !bindJSON(w, r, &req) {
		return
	}

	a, err := h.articles.Update(r.Context(), p, chi.URLParam(r, "id"), model.ArticlePatch{
		Title:    req.Title,
		Body:     req.Body,
		Excerpt:  req.Excerpt,
		Category: req.Category,
		Tags:     req.Tags,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapArticle(a))
}

// DeleteArticle — DELETE /api/v1/articles/{id}.
func (h *APIHandler) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	if err := h.articles.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArticleHistory — GET /api/v1/articles/{id}/history.
func (h *APIHandler) ArticleHistory(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}

	history, err := h.articles.History(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if history == nil {
		history = []model.HistoryEntry{}
	}
	apierrors.WriteSuccess(w, http.StatusOK, history)
}

// SubmitArticle — POST /api/v1/articles/{id}/submit.
func (h *APIHandler) SubmitArticle(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.articles.Submit)
}

// ApproveArticle — POST /api/v1/articles/{id}/approve.
func (h *APIHandler) ApproveArticle(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.articles.Approve)
}

// PublishArticle — POST /api/v1/articles/{id}/publish.
func (h *APIHandler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.articles.Publish)
}

// RejectArticle — POST /api/v1/articles/{id}/reject.
// Тело {"reason": "..."} необязательно.
func (h *APIHandler) RejectArticle(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !bindOptionalJSON(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, p *rbac.Principal, id string) (*model.Article, error) {
		return h.articles.Reject(ctx, p, id, req.Reason)
	})
}

type transitionFunc func(ctx context.Context, p *rbac.Principal, id string) (*model.Article, error)

func (h *APIHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	p := principal(w, r)
	if p == nil {
		return
	}

	a, err := fn(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, mapArticle(a))
}
