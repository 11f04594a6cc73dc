package alerting

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is the comparison applied between an observed value and an
// alert's threshold.
type Operator string

const (
	OpGreaterThan      Operator = "gt"
	OpLessThan         Operator = "lt"
	OpEqual            Operator = "eq"
	OpGreaterThanEqual Operator = "gte"
	OpLessThanEqual    Operator = "lte"
)

// Valid reports whether op is one of the known operators.
func (op Operator) Valid() bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpEqual, OpGreaterThanEqual, OpLessThanEqual:
		return true
	default:
		return false
	}
}

// Evaluate compares observed against threshold. Equality is exact. An
// unknown operator never matches.
func Evaluate(observed float64, op Operator, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return observed > threshold
	case OpLessThan:
		return observed < threshold
	case OpEqual:
		return observed == threshold
	case OpGreaterThanEqual:
		return observed >= threshold
	case OpLessThanEqual:
		return observed <= threshold
	default:
		return false
	}
}

// ParseThreshold converts a stored threshold value to a number.
func ParseThreshold(value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold value %q: %w", value, err)
	}
	return v, nil
}
