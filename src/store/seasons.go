package store

import (
	"context"

	"github.com/stake-plus/questdao/src/types"
)

// ActiveSeason returns the most recently created active season.
func (s *Store) ActiveSeason(ctx context.Context) (*types.Season, error) {
	var season types.Season
	err := s.conn(ctx).Where("active = ?", true).Order("id desc").First(&season).Error
	if err != nil {
		return nil, notFound(err, "active season", "")
	}
	return &season, nil
}

func (s *Store) GetSeason(ctx context.Context, id uint64) (*types.Season, error) {
	var season types.Season
	if err := s.conn(ctx).First(&season, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "season", id)
	}
	return &season, nil
}

func (s *Store) CreateSeason(ctx context.Context, season *types.Season) error {
	return s.conn(ctx).Create(season).Error
}
