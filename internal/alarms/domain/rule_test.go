package alarms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleTriggersAndClears(t *testing.T) {
	rules := DefaultRules()
	battery, speed := rules[0], rules[1]

	assert.True(t, battery.Triggers(19))
	assert.False(t, battery.Triggers(20))
	assert.False(t, battery.Clears(22))
	assert.True(t, battery.Clears(25))

	assert.True(t, speed.Triggers(101))
	assert.False(t, speed.Triggers(100))
	assert.False(t, speed.Clears(95))
	assert.True(t, speed.Clears(90))
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`
rules:
  - code: LOW_BATTERY
    metric: battery
    operator: "<"
    threshold: 15
  - code: SPEED_VIOLATION
    metric: speed
    operator: ">="
    threshold: 80
    hysteresis: 5
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 15.0, rules[0].Threshold)
	assert.Equal(t, OperatorGreaterOrEqual, rules[1].Operator)

	_, err = ParseRules([]byte("rules:\n  - code: X\n    metric: altitude\n    operator: '>'\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseRules([]byte("rules: ["))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestLoadRulesDefaults(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestSampleValue(t *testing.T) {
	s := Sample{SpeedKmh: 42}
	v, ok := s.Value(MetricSpeed)
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)
	_, ok = s.Value(MetricBattery)
	assert.False(t, ok)
}
