package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name      string
		hasSample bool
		speed     float64
		sos       bool
		want      Status
	}{
		{"no data", false, 0, false, StatusOffline},
		{"sos without data", false, 0, true, StatusSOS},
		{"parked", true, 0, false, StatusOnline},
		{"at threshold", true, 5, false, StatusOnline},
		{"driving", true, 60, false, StatusMoving},
		{"sos overrides moving", true, 60, true, StatusSOS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.hasSample, tc.speed, tc.sos, DefaultMovingThresholdKmh))
		})
	}
}

func TestNormalizePlate(t *testing.T) {
	assert.Equal(t, "LAG123XY", NormalizePlate(" lag 123-xy "))
	assert.Equal(t, "", NormalizePlate("  "))
}

func TestDeviceValidate(t *testing.T) {
	d := Device{ID: "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa", OrganizationID: "o", BranchID: "b", PlateNumber: "X1"}
	assert.NoError(t, d.Validate())
	d.ID = "nope"
	assert.ErrorIs(t, d.Validate(), ErrInvalidDevice)
}
