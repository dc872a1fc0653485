// metrics.go — Prometheus-метрики бизнес-операций.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lifecycleTransitionsTotal — попытки переходов жизненного цикла по действию и результату.
	lifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bm_lifecycle_transitions_total",
		Help: "Количество попыток переходов жизненного цикла статей.",
	}, []string{"action", "result"})

	// auditWriteFailuresTotal — проглоченные ошибки записи в журнал аудита.
	auditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_audit_write_failures_total",
		Help: "Количество неудачных записей в журнал аудита.",
	})

	// notificationsPersistedTotal — сохранённые уведомления.
	notificationsPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_notifications_persisted_total",
		Help: "Количество сохранённых уведомлений.",
	})

	// notificationDeliveriesTotal — попытки доставки по каналу (live, email) и результату.
	notificationDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bm_notification_deliveries_total",
		Help: "Попытки доставки уведомлений по каналам.",
	}, []string{"channel", "result"})

	principalCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_principal_cache_hits_total",
		Help: "Попадания в кэш аутентифицированных субъектов.",
	})
	principalCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bm_principal_cache_misses_total",
		Help: "Промахи кэша аутентифицированных субъектов.",
	})
)
