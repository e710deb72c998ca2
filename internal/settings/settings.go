// Package settings reads and writes the general configuration row that
// holds business hours and the global open-session cap.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"kasa-backend/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const GeneralID = "general"

// Defaults apply until an operator saves settings.
func Defaults(timeZone string) models.Settings {
	return models.Settings{
		ID: GeneralID,
		BusinessHours: models.BusinessHours{
			StartTime: "08:00",
			EndTime:   "22:00",
			TimeZone:  timeZone,
		},
		MaxConcurrentOpenSessions: 5,
	}
}

type Store struct {
	db       *gorm.DB
	timeZone string
}

func NewStore(db *gorm.DB, timeZone string) *Store {
	return &Store{db: db, timeZone: timeZone}
}

// Load returns the saved settings, or the defaults when none are stored.
func (s *Store) Load(ctx context.Context) (models.Settings, error) {
	var st models.Settings
	err := s.db.WithContext(ctx).First(&st, "id = ?", GeneralID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Defaults(s.timeZone), nil
	}
	if err != nil {
		return models.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if st.BusinessHours.TimeZone == "" {
		st.BusinessHours.TimeZone = s.timeZone
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, st models.Settings) error {
	st.ID = GeneralID
	if err := Validate(st); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&st).Error
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// fileSettings is the YAML layout of a seed file.
type fileSettings struct {
	BusinessHours             models.BusinessHours `yaml:"business_hours"`
	MaxConcurrentOpenSessions int                  `yaml:"max_concurrent_open_sessions"`
}

// Seed stores the settings described by the YAML file at path.
func (s *Store) Seed(ctx context.Context, path string) (models.Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	st, err := Parse(raw, s.timeZone)
	if err != nil {
		return models.Settings{}, err
	}
	if err := s.Save(ctx, st); err != nil {
		return models.Settings{}, err
	}
	return st, nil
}

func Parse(raw []byte, timeZone string) (models.Settings, error) {
	var f fileSettings
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return models.Settings{}, fmt.Errorf("parse settings file: %w", err)
	}
	st := models.Settings{
		ID:                        GeneralID,
		BusinessHours:             f.BusinessHours,
		MaxConcurrentOpenSessions: f.MaxConcurrentOpenSessions,
	}
	if st.BusinessHours.TimeZone == "" {
		st.BusinessHours.TimeZone = timeZone
	}
	return st, Validate(st)
}

func Validate(st models.Settings) error {
	var problems []string
	if st.MaxConcurrentOpenSessions < 1 {
		problems = append(problems, "max_concurrent_open_sessions must be at least 1")
	}
	if _, err := ParseClock(st.BusinessHours.StartTime); err != nil {
		problems = append(problems, "start_time: "+err.Error())
	}
	if _, err := ParseClock(st.BusinessHours.EndTime); err != nil {
		problems = append(problems, "end_time: "+err.Error())
	}
	if st.BusinessHours.TimeZone != "" {
		if _, err := time.LoadLocation(st.BusinessHours.TimeZone); err != nil {
			problems = append(problems, "time_zone: "+err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
