package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
)

// CastType names a coercion target.
type CastType string

const (
	CastString   CastType = "string"
	CastInteger  CastType = "integer"
	CastFloat    CastType = "float"
	CastBoolean  CastType = "boolean"
	CastDate     CastType = "date"
	CastDateTime CastType = "datetime"
	CastSymbol   CastType = "symbol"
	CastList     CastType = "list"
	CastMap      CastType = "map"
)

// DateLayout is the ISO-8601 calendar date layout accepted by the date cast.
const DateLayout = "2006-01-02"

// Coerce converts value to t. The second result is false when the value
// cannot be represented, in which case the caller keeps the original.
func (t CastType) Coerce(value any) (any, bool) {
	switch t {
	case CastString:
		return toString(value)
	case CastInteger:
		return toInteger(value)
	case CastFloat:
		return toFloat(value)
	case CastBoolean:
		return toBoolean(value)
	case CastDate:
		return toTime(value, DateLayout)
	case CastDateTime:
		return toTime(value, time.RFC3339)
	case CastSymbol:
		s, ok := value.(string)
		if !ok {
			if sym, isSym := value.(param.Symbol); isSym {
				return sym, true
			}
			return nil, false
		}
		return param.Symbol(s), true
	case CastList:
		return toList(value)
	case CastMap:
		return toMap(value)
	default:
		return nil, false
	}
}

func toString(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case param.Symbol:
		return string(v), true
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), true
	case time.Time:
		return v.Format(time.RFC3339), true
	default:
		return nil, false
	}
}

func toInteger(value any) (any, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		if uint64(v) > math.MaxInt {
			return nil, false
		}
		return int(v), true
	case uint:
		if uint64(v) > math.MaxInt {
			return nil, false
		}
		return int(v), true
	case uint64:
		if v > math.MaxInt {
			return nil, false
		}
		return int(v), true
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

// floatToInt accepts whole values inside the int range. The bounds are
// compared as floats: -2^63 is exact, and 2^63 is the first value past the top.
func floatToInt(v float64) (any, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return nil, false
	}
	if v < math.MinInt || v >= -math.MinInt {
		return nil, false
	}
	return int(v), true
}

func toFloat(value any) (any, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

func toBoolean(value any) (any, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	case int:
		switch v {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case float64:
		switch v {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	}
	return nil, false
}

func toTime(value any, layout string) (any, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		parsed, err := time.Parse(layout, strings.TrimSpace(v))
		if err != nil {
			return nil, false
		}
		return parsed, true
	default:
		return nil, false
	}
}

func toList(value any) (any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		return v, true
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}, true
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, true
	default:
		return nil, false
	}
}

func toMap(value any) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case param.Map:
		return map[string]any(v), true
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil || decoded == nil {
			return nil, false
		}
		return decoded, true
	default:
		return nil, false
	}
}
