// errors.go — ошибки бизнес-логики сервисного слоя и их трансляция
// из ошибок домена и репозиториев.
package service

import (
	"errors"
	"fmt"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/lifecycle"
	"github.com/russeltsague/BM-Agency-sub000/internal/domain/rbac"
	"github.com/russeltsague/BM-Agency-sub000/internal/repository"
)

var (
	// ErrUnauthenticated — субъект не аутентифицирован.
	ErrUnauthenticated = errors.New("требуется аутентификация")
	// ErrForbidden — недостаточно прав.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrInvalidTransition — переход недопустим из текущего состояния.
	ErrInvalidTransition = errors.New("недопустимый переход")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrConflict — конфликт: дубликат или проигранное условное обновление.
	ErrConflict = errors.New("конфликт")
)

// translate приводит ошибки домена и репозиториев к ошибкам сервиса.
// Неизвестные ошибки возвращаются без изменений.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		if te.Code == lifecycle.CodeForbidden {
			return fmt.Errorf("%w: %s", ErrForbidden, te.Message)
		}
		return fmt.Errorf("%w: %s", ErrInvalidTransition, te.Message)
	}

	switch {
	case errors.Is(err, rbac.ErrDenied):
		return fmt.Errorf("%w: %s", ErrForbidden, err.Error())
	case errors.Is(err, rbac.ErrUnknownRole):
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	case errors.Is(err, repository.ErrStaleState):
		return fmt.Errorf("%w: состояние изменено параллельным запросом, перечитайте ресурс", ErrConflict)
	}
	return err
}

// validationf формирует ErrValidation с сообщением.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// forbiddenf формирует ErrForbidden с сообщением.
func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
