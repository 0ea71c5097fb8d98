package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"v2neko/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("profile not found")

func Connect(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		// Error level hides "SLOW SQL" warnings
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.ProxyProfile{})
}

// Store is the keyed profile store.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects, migrates and wraps the database at path.
func Open(path string) (*Store, error) {
	conn, err := Connect(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewStore(conn), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save inserts p or replaces the stored record with the same ID.
func (s *Store) Save(p *model.ProxyProfile) error {
	return s.db.Save(p).Error
}

func (s *Store) List() ([]model.ProxyProfile, error) {
	var profiles []model.ProxyProfile
	err := s.db.Order("created_at, id").Find(&profiles).Error
	return profiles, err
}

func (s *Store) Get(id string) (*model.ProxyProfile, error) {
	var p model.ProxyProfile
	result := s.db.Where("id = ?", id).Limit(1).Find(&p)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &p, nil
}

// FindByHash returns nil without error when no profile matches.
func (s *Store) FindByHash(hash string) (*model.ProxyProfile, error) {
	var p model.ProxyProfile
	result := s.db.Where("hash = ?", hash).Limit(1).Find(&p)
	if result.Error != nil || result.RowsAffected == 0 {
		return nil, result.Error
	}
	return &p, nil
}

func (s *Store) Delete(id string) error {
	result := s.db.Delete(&model.ProxyProfile{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// AddTraffic adds byte deltas to the cumulative counters.
func (s *Store) AddTraffic(id string, up, down int64) error {
	result := s.db.Model(&model.ProxyProfile{}).Where("id = ?", id).Updates(map[string]interface{}{
		"upload":   gorm.Expr("upload + ?", up),
		"download": gorm.Expr("download + ?", down),
	})
	return s.checkUpdated(result, id)
}

func (s *Store) SetDelay(id string, ms int) error {
	result := s.db.Model(&model.ProxyProfile{}).Where("id = ?", id).Update("delay", ms)
	return s.checkUpdated(result, id)
}

func (s *Store) SetCountry(id, country string) error {
	result := s.db.Model(&model.ProxyProfile{}).Where("id = ?", id).Update("country", country)
	return s.checkUpdated(result, id)
}

func (s *Store) checkUpdated(result *gorm.DB, id string) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
