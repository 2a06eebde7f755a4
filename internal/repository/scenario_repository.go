package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"counselor_training_backend/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const scenarioCacheTTL = 10 * time.Minute

// ScenarioRepository reads scenarios, going through Redis first when a client is configured.
type ScenarioRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewScenarioRepository(db *gorm.DB, rdb *redis.Client) *ScenarioRepository {
	return &ScenarioRepository{DB: db, Redis: rdb}
}

func (r *ScenarioRepository) WithTx(tx *gorm.DB) *ScenarioRepository {
	return &ScenarioRepository{DB: tx, Redis: r.Redis}
}

func scenarioCacheKey(id string) string {
	return fmt.Sprintf("scenario:%s", id)
}

func (r *ScenarioRepository) FindByID(ctx context.Context, id string) (*model.Scenario, error) {
	if r.Redis != nil {
		if data, err := r.Redis.Get(ctx, scenarioCacheKey(id)).Bytes(); err == nil {
			var cached model.Scenario
			if json.Unmarshal(data, &cached) == nil {
				return &cached, nil
			}
		}
	}

	var s model.Scenario
	if err := r.DB.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if r.Redis != nil {
		if data, err := json.Marshal(&s); err == nil {
			r.Redis.Set(ctx, scenarioCacheKey(id), data, scenarioCacheTTL)
		}
	}
	return &s, nil
}

func (r *ScenarioRepository) Create(ctx context.Context, s *model.Scenario) error {
	return r.DB.WithContext(ctx).Create(s).Error
}
