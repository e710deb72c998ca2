package reconcile

import (
	"testing"
	"time"

	"kasa-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresent_BlindCountForCashier(t *testing.T) {
	r := Reconcile(newSession("500"), nil, d("480"), opened.Add(time.Hour))
	require.Equal(t, models.OutcomeShortfall, r.Outcome)

	p := Present(r, models.RoleCashier)

	assert.True(t, p.Blind)
	assert.Equal(t, "Kasa sayımı kaydedildi", p.Message)
	assert.Nil(t, p.Difference)
	assert.Nil(t, p.ExpectedCash)
	assert.Nil(t, p.Breakdown)
	assert.Empty(t, p.Outcome)
	// the stored result keeps the true figures
	assert.True(t, r.Difference.Equal(d("-20")))
}

func TestPresent_ElevatedRolesSeeFigures(t *testing.T) {
	r := Reconcile(newSession("500"), nil, d("512.345"), opened.Add(time.Hour))

	for _, role := range []models.UserRole{models.RoleSuperAdmin, models.RoleBranchAdmin} {
		p := Present(r, role)
		assert.False(t, p.Blind)
		require.NotNil(t, p.Difference)
		assert.Equal(t, "12.35", p.Difference.StringFixed(2))
		assert.Equal(t, models.OutcomeSurplus, p.Outcome)
		assert.Equal(t, "Kasada fazla var", p.Message)
	}
}

func TestPresent_Messages(t *testing.T) {
	cases := []struct {
		counted string
		want    string
	}{
		{"500", "Kasa denk"},
		{"490", "Kasada eksik var"},
		{"510", "Kasada fazla var"},
	}
	for _, tc := range cases {
		t.Run(tc.counted, func(t *testing.T) {
			r := Reconcile(newSession("500"), nil, d(tc.counted), opened.Add(time.Hour))
			assert.Equal(t, tc.want, Present(r, models.RoleBranchAdmin).Message)
		})
	}
}
