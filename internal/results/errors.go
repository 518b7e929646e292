package results

import "errors"

// Ошибки хранилища результатов.
var (
	// ErrStore — ошибка обращения к store.
	ErrStore = errors.New("result store failure")

	// ErrFinal — результат уже в финальном статусе и не перезаписывается.
	ErrFinal = errors.New("result already final")

	// ErrEncode — результат не сериализуется в JSON (NaN, chan, func).
	ErrEncode = errors.New("result is not encodable")

	// ErrNotNumeric — результат нельзя сложить как число.
	ErrNotNumeric = errors.New("result is not numeric")

	// ErrNotMap — результат нельзя слить как map.
	ErrNotMap = errors.New("result is not a map")
)
