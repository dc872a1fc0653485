package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

// ArticleRepository — доступ к таблице articles.
type ArticleRepository interface {
	// Create сохраняет новую статью вместе с начальной историей.
	Create(ctx context.Context, a *model.Article) error
	GetByID(ctx context.Context, id string) (*model.Article, error)
	List(ctx context.Context, filter model.ArticleFilter, limit, offset int) ([]*model.Article, error)
	Count(ctx context.Context, filter model.ArticleFilter) (int, error)
	// UpdateFields сохраняет редактируемые поля и запись истории при условии,
	// что статус не изменился с момента чтения. Иначе — ErrStaleState.
	UpdateFields(ctx context.Context, a *model.Article, expected model.ArticleStatus, entry model.HistoryEntry) error
	// Transition атомарно применяет переход (compare-and-set по статусу)
	// и возвращает статью после изменения.
	// Несовпадение статуса — ErrStaleState, отсутствие статьи — ErrNotFound.
	Transition(ctx context.Context, change *model.StateChange) (*model.Article, error)
	Delete(ctx context.Context, id string) error
	// GetAuthorID возвращает автора статьи (для проверки владения).
	GetAuthorID(ctx context.Context, id string) (string, error)
}

type articleRepo struct {
	db DBTX
}

// NewArticleRepository создаёт репозиторий статей.
func NewArticleRepository(db DBTX) ArticleRepository {
	return &articleRepo{db: db}
}

const articleColumns = `id, title, slug, body, excerpt, category, tags, status, published,
	author_id, history, submitted_at, approved_at, published_at, created_at, updated_at`

func scanArticle(row rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var status string
	var history []byte
	if err := row.Scan(
		&a.ID, &a.Title, &a.Slug, &a.Body, &a.Excerpt, &a.Category, &a.Tags,
		&status, &a.Published, &a.AuthorID, &history,
		&a.SubmittedAt, &a.ApprovedAt, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = model.ArticleStatus(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.History); err != nil {
			return nil, fmt.Errorf("ошибка разбора истории статьи %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func (r *articleRepo) Create(ctx context.Context, a *model.Article) error {
	history, err := json.Marshal(a.History)
	if err != nil {
		return fmt.Errorf("ошибка сериализации истории: %w", err)
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}

	query := `
		INSERT INTO articles (id, title, slug, body, excerpt, category, tags, status,
			published, author_id, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		a.ID, a.Title, a.Slug, a.Body, a.Excerpt, a.Category, a.Tags,
		string(a.Status), a.Published, a.AuthorID, history, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %s уже занят", ErrConflict, a.Slug)
		}
		return fmt.Errorf("ошибка создания статьи: %w", err)
	}
	return nil
}

func (r *articleRepo) GetByID(ctx context.Context, id string) (*model.Article, error) {
	a, err := scanArticle(r.db.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения статьи: %w", err)
	}
	return a, nil
}

func buildArticleWhere(filter model.ArticleFilter) *whereBuilder {
	w := &whereBuilder{}
	if filter.Status != nil {
		w.add("status = $%d", string(*filter.Status))
	}
	if filter.AuthorID != nil {
		w.add("author_id = $%d", *filter.AuthorID)
	}
	if filter.Category != nil {
		w.add("category = $%d", *filter.Category)
	}
	if filter.Tag != nil {
		w.add("$%d = ANY(tags)", *filter.Tag)
	}
	if filter.VisibleTo != nil {
		w.add("(status = 'published' OR author_id = $%d)", *filter.VisibleTo)
	}
	return w
}

func (r *articleRepo) List(ctx context.Context, filter model.ArticleFilter, limit, offset int) ([]*model.Article, error) {
	w := buildArticleWhere(filter)
	n := w.next()
	query := fmt.Sprintf(`SELECT %s FROM articles %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		articleColumns, w.sql(), n, n+1)
	args := append(w.args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка статей: %w", err)
	}
	defer rows.Close()

	var result []*model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования статьи: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *articleRepo) Count(ctx context.Context, filter model.ArticleFilter) (int, error) {
	w := buildArticleWhere(filter)
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM articles `+w.sql(), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта статей: %w", err)
	}
	return count, nil
}

func (r *articleRepo) UpdateFields(ctx context.Context, a *model.Article, expected model.ArticleStatus, entry model.HistoryEntry) error {
	if a.Tags == nil {
		a.Tags = []string{}
	}
	entryJSON, err := json.Marshal([]model.HistoryEntry{entry})
	if err != nil {
		return fmt.Errorf("ошибка сериализации истории: %w", err)
	}

	query := `
		UPDATE articles
		SET title = $3, body = $4, excerpt = $5, category = $6, tags = $7,
			history = history || $8::jsonb, updated_at = $9
		WHERE id = $1 AND status = $2
		RETURNING ` + articleColumns

	updated, err := scanArticle(r.db.QueryRow(ctx, query,
		a.ID, string(expected), a.Title, a.Body, a.Excerpt, a.Category, a.Tags,
		entryJSON, entry.Timestamp,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missOrStale(ctx, a.ID)
		}
		return fmt.Errorf("ошибка обновления статьи: %w", err)
	}
	*a = *updated
	return nil
}

func (r *articleRepo) Transition(ctx context.Context, c *model.StateChange) (*model.Article, error) {
	entryJSON, err := json.Marshal([]model.HistoryEntry{c.Entry})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации истории: %w", err)
	}

	// Условие status = $2 и изменение выполняются одним оператором.
	query := `
		UPDATE articles
		SET status = $3,
			published = $4,
			history = history || $5::jsonb,
			submitted_at = COALESCE(submitted_at, $6),
			approved_at = COALESCE(approved_at, $7),
			published_at = COALESCE(published_at, $8),
			updated_at = $9
		WHERE id = $1 AND status = $2
		RETURNING ` + articleColumns

	a, err := scanArticle(r.db.QueryRow(ctx, query,
		c.ArticleID, string(c.Expected), string(c.Target), c.Published, entryJSON,
		c.SetSubmittedAt, c.SetApprovedAt, c.SetPublishedAt, c.Entry.Timestamp,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missOrStale(ctx, c.ArticleID)
		}
		return nil, fmt.Errorf("ошибка перехода статьи: %w", err)
	}
	return a, nil
}

// missOrStale различает отсутствие статьи и проигранное условное обновление.
func (r *articleRepo) missOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки статьи: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleState
}

func (r *articleRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления статьи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *articleRepo) GetAuthorID(ctx context.Context, id string) (string, error) {
	var author string
	err := r.db.QueryRow(ctx, `SELECT author_id FROM articles WHERE id = $1`, id).Scan(&author)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения автора статьи: %w", err)
	}
	return author, nil
}
