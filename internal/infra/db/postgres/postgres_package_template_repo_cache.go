package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/repository"
	"esim-reseller/internal/infra/metrics"
	red "esim-reseller/internal/infra/redis"
)

var _ repository.PackageTemplateRepository = (*packageTemplateRepoCacheDecorator)(nil)

const defaultTemplateTTL = 1 * time.Hour

// packageTemplateRepoCacheDecorator serves catalog reads from Redis. The
// mirror is written by the catalog sync, so entries only expire.
type packageTemplateRepoCacheDecorator struct {
	inner repository.PackageTemplateRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewPackageTemplateRepoCacheDecorator(inner repository.PackageTemplateRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.PackageTemplateRepository {
	if ttl <= 0 {
		ttl = defaultTemplateTTL
	}
	l := logger.With().Str("component", "package_template_cache").Logger()
	return &packageTemplateRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   &l,
	}
}

func (d *packageTemplateRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PackageTemplate, error) {
	key := "package_template:" + id
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var t model.PackageTemplate
		if json.Unmarshal([]byte(val), &t) == nil {
			metrics.IncCacheRequest("package_template", "hit")
			return &t, nil
		}
	} else if !errors.Is(err, red.Nil) {
		metrics.IncCacheRequest("package_template", "error")
		d.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	metrics.IncCacheRequest("package_template", "miss")
	t, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(t); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return t, nil
}
