package health

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

func (h *Health) Healthy() bool { return h.Status == StatusHealthy }

type HealthService interface {
	Liveness(ctx context.Context) *Health
	Readiness(ctx context.Context) *Health
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
	}
}

func (h *health) Liveness(ctx context.Context) *Health {
	return &Health{
		Status:  StatusHealthy,
		Message: "OK",
	}
}

// Readiness pings the database and the redis backing the task queue.
func (h *health) Readiness(ctx context.Context) *Health {
	this := &Health{
		Status:  StatusHealthy,
		Message: "OK",
		Deps:    make([]Dependency, 0, 2),
	}

	if h.db != nil {
		this.add("database", h.pingDB(ctx))
	}
	if h.redis != nil {
		this.add("redis", h.redis.Ping(ctx).Err())
	}
	return this
}

func (h *health) pingDB(ctx context.Context) error {
	sql, err := h.db.DB()
	if err != nil {
		return err
	}
	return sql.PingContext(ctx)
}

func (h *Health) add(name string, err error) {
	dep := Dependency{
		Name:    name,
		Status:  StatusHealthy,
		Message: "OK",
	}
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
		h.Status = StatusUnhealthy
		h.Message = name + " is not ready"
	}
	h.Deps = append(h.Deps, dep)
}
