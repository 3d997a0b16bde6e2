package util

import (
	"math"
	"strconv"
	"strings"
)

// CostValue is a normalized cost cell. Coerced is set when a non-blank cell
// could not be read as a number and was defaulted to zero.
type CostValue struct {
	Value   float64
	Coerced bool
}

// NormalizeCost converts a cost cell to a number, defaulting to 0 on failure.
func NormalizeCost(raw any) float64 {
	return ParseCost(raw).Value
}

// ParseCost keeps only digits and the decimal point of string input before
// parsing it. Numeric input is returned unchanged, so normalizing an already
// normalized value is a no-op.
func ParseCost(raw any) CostValue {
	switch t := raw.(type) {
	case nil:
		return CostValue{}
	case string:
		return parseCostString(t)
	case *string:
		if t == nil {
			return CostValue{}
		}
		return parseCostString(*t)
	case float64:
		return finiteCost(t)
	case float32:
		return finiteCost(float64(t))
	case *float64:
		if t == nil {
			return CostValue{}
		}
		return finiteCost(*t)
	case int:
		return CostValue{Value: float64(t)}
	case int8:
		return CostValue{Value: float64(t)}
	case int16:
		return CostValue{Value: float64(t)}
	case int32:
		return CostValue{Value: float64(t)}
	case int64:
		return CostValue{Value: float64(t)}
	case uint:
		return CostValue{Value: float64(t)}
	case uint8:
		return CostValue{Value: float64(t)}
	case uint16:
		return CostValue{Value: float64(t)}
	case uint32:
		return CostValue{Value: float64(t)}
	case uint64:
		return CostValue{Value: float64(t)}
	default:
		return CostValue{Coerced: true}
	}
}

func parseCostString(input string) CostValue {
	if strings.TrimSpace(input) == "" {
		return CostValue{}
	}
	var b strings.Builder
	for _, r := range input {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	stripped := b.String()
	if stripped == "" {
		return CostValue{Coerced: true}
	}
	parsed, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return CostValue{Coerced: true}
	}
	return finiteCost(parsed)
}

func finiteCost(v float64) CostValue {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return CostValue{Coerced: true}
	}
	return CostValue{Value: v}
}
