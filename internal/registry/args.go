package registry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadArgument — аргумент отсутствует или имеет неверный тип.
var ErrBadArgument = errors.New("bad argument")

// Float извлекает числовой аргумент по индексу.
//
// После прохождения через backing store числа приходят как float64,
// поэтому handler'ы читают аргументы через эти функции.
func Float(args []any, i int) (float64, error) {
	if i < 0 || i >= len(args) {
		return 0, fmt.Errorf("%w: index %d out of range (%d args)", ErrBadArgument, i, len(args))
	}
	return ToFloat(args[i])
}

// Int извлекает целочисленный аргумент по индексу.
func Int(args []any, i int) (int, error) {
	f, err := Float(args, i)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// String извлекает строковый аргумент по индексу.
func String(args []any, i int) (string, error) {
	if i < 0 || i >= len(args) {
		return "", fmt.Errorf("%w: index %d out of range (%d args)", ErrBadArgument, i, len(args))
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: arg %d is %T, want string", ErrBadArgument, i, args[i])
	}
	return s, nil
}

// ToFloat приводит число любого встроенного типа к float64.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrBadArgument, v)
	}
}
