package model

import "time"

// ResourceSetting — тип ресурса журнала аудита для настроек агентства.
const ResourceSetting = "setting"

// Setting — настройка агентства (ключ в dot-notation, значение строкой).
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
	// UpdatedBy — идентификатор пользователя, изменившего настройку
	UpdatedBy string
}
