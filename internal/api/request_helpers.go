package api

import (
	"fmt"
	"net/http"
	"strconv"
)

// QueryInt returns the integer query parameter name, or def when it is
// absent. Values outside [lower, upper] are rejected.
func QueryInt(r *http.Request, name string, def, lower, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < lower || n > upper {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lower, upper)
	}
	return n, nil
}
