package alarms

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidRule is returned for rules that cannot be evaluated.
	ErrInvalidRule = errors.New("alarm: invalid rule")
	// ErrNotFound indicates a missing alarm record.
	ErrNotFound = errors.New("alarm: not found")
)

// Metric names a sampled value a rule watches.
type Metric string

const (
	MetricBattery Metric = "battery"
	MetricSpeed   Metric = "speed"
)

// Operator compares a sample with a threshold.
type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
)

// Rule raises Code once when Metric crosses Threshold and re-arms after the
// value recovers past Hysteresis.
type Rule struct {
	Code       string   `yaml:"code"`
	Metric     Metric   `yaml:"metric"`
	Operator   Operator `yaml:"operator"`
	Threshold  float64  `yaml:"threshold"`
	Hysteresis float64  `yaml:"hysteresis"`
	Message    string   `yaml:"message"`
}

// Validate checks the rule is evaluable.
func (r Rule) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidRule)
	}
	switch r.Metric {
	case MetricBattery, MetricSpeed:
	default:
		return fmt.Errorf("%w: %s: metric %q", ErrInvalidRule, r.Code, r.Metric)
	}
	switch r.Operator {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
	default:
		return fmt.Errorf("%w: %s: operator %q", ErrInvalidRule, r.Code, r.Operator)
	}
	if r.Hysteresis < 0 {
		return fmt.Errorf("%w: %s: negative hysteresis", ErrInvalidRule, r.Code)
	}
	return nil
}

// Triggers reports whether value is in the alert region.
func (r Rule) Triggers(value float64) bool {
	switch r.Operator {
	case OperatorGreater:
		return value > r.Threshold
	case OperatorGreaterOrEqual:
		return value >= r.Threshold
	case OperatorLess:
		return value < r.Threshold
	case OperatorLessOrEqual:
		return value <= r.Threshold
	default:
		return false
	}
}

// Clears reports whether value has recovered far enough to re-arm.
func (r Rule) Clears(value float64) bool {
	switch r.Operator {
	case OperatorGreater, OperatorGreaterOrEqual:
		return value <= r.Threshold-r.Hysteresis
	case OperatorLess, OperatorLessOrEqual:
		return value >= r.Threshold+r.Hysteresis
	default:
		return false
	}
}

// RuleSet is the YAML document holding the rules.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules are used when no rules file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Code:       "LOW_BATTERY",
			Metric:     MetricBattery,
			Operator:   OperatorLess,
			Threshold:  20,
			Hysteresis: 5,
			Message:    "Battery below 20%",
		},
		{
			Code:       "SPEED_VIOLATION",
			Metric:     MetricSpeed,
			Operator:   OperatorGreater,
			Threshold:  100,
			Hysteresis: 10,
			Message:    "Speed above 100 km/h",
		},
	}
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) ([]Rule, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	for _, rule := range set.Rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	return set.Rules, nil
}

// LoadRules reads rules from path, or returns DefaultRules for an empty path.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRules(data)
}

// Sample is one reading to evaluate.
type Sample struct {
	DeviceID string
	Lat      float64
	Lng      float64
	SpeedKmh float64
	Battery  *float64
	At       time.Time
}

// Value returns the sampled value for metric, if present.
func (s Sample) Value(metric Metric) (float64, bool) {
	switch metric {
	case MetricSpeed:
		return s.SpeedKmh, true
	case MetricBattery:
		if s.Battery == nil {
			return 0, false
		}
		return *s.Battery, true
	default:
		return 0, false
	}
}

// State is the edge state of one rule for one device.
type State struct {
	DeviceID    string
	Code        string
	ActiveSince time.Time
	LastValue   float64
	UpdatedAt   time.Time
}

// StateStore keeps which rules are currently raised per device.
type StateStore interface {
	Get(ctx context.Context, deviceID, code string) (*State, error)
	Upsert(ctx context.Context, state *State) error
	Clear(ctx context.Context, deviceID, code string) error
}
