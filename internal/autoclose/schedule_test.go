package autoclose

import (
	"testing"
	"time"

	"kasa-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedClose(t *testing.T) {
	utc := func(day, hour, min int) time.Time { return time.Date(2025, 5, day, hour, min, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		hours  models.BusinessHours
		opened time.Time
		want   time.Time
	}{
		{
			name:   "same day",
			hours:  models.BusinessHours{StartTime: "08:00", EndTime: "16:00"},
			opened: utc(10, 8, 0),
			want:   utc(10, 16, 0),
		},
		{
			name:   "same day, opened after end",
			hours:  models.BusinessHours{StartTime: "08:00", EndTime: "16:00"},
			opened: utc(10, 23, 0),
			want:   utc(11, 16, 0),
		},
		{
			name:   "overnight, opened in the evening",
			hours:  models.BusinessHours{StartTime: "18:00", EndTime: "02:00", EndIsNextDay: true},
			opened: utc(10, 18, 30),
			want:   utc(11, 2, 0),
		},
		{
			name:   "overnight, opened after midnight",
			hours:  models.BusinessHours{StartTime: "18:00", EndTime: "02:00", EndIsNextDay: true},
			opened: utc(11, 1, 15),
			want:   utc(11, 2, 0),
		},
		{
			name:   "overnight, opened after end",
			hours:  models.BusinessHours{StartTime: "18:00", EndTime: "02:00", EndIsNextDay: true},
			opened: utc(11, 3, 0),
			want:   utc(12, 2, 0),
		},
		{
			name:   "local zone",
			hours:  models.BusinessHours{StartTime: "08:00", EndTime: "22:00", TimeZone: "Europe/Istanbul"},
			opened: utc(10, 6, 0), // 09:00 yerel
			want:   utc(10, 19, 0),
		},
		{
			name:   "local zone crosses utc midnight",
			hours:  models.BusinessHours{StartTime: "08:00", EndTime: "22:00", TimeZone: "Europe/Istanbul"},
			opened: utc(9, 22, 0), // 01:00 yerel, ertesi gün
			want:   utc(10, 19, 0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpectedClose(tt.hours, tt.opened)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got.UTC())
		})
	}
}

func TestExpectedClose_Errors(t *testing.T) {
	_, err := ExpectedClose(models.BusinessHours{EndTime: "22:00", TimeZone: "Mars/Olympus"}, time.Now())
	assert.Error(t, err)
	_, err = ExpectedClose(models.BusinessHours{EndTime: "late"}, time.Now())
	assert.Error(t, err)
}

func TestDeadline_AddsTolerance(t *testing.T) {
	s := &models.CashSession{
		OpenedAt:              time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC),
		BusinessHoursSnapshot: models.BusinessHours{StartTime: "08:00", EndTime: "16:00"},
	}
	got, err := Deadline(s)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 10, 18, 0, 0, 0, time.UTC), got.UTC())
}
