package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// maxBodyBytes bounds request bodies decoded by DecodeJSON.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes the request body into dst and validates it. Malformed
// JSON and tag failures are both reported as ValidationErrors.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return ValidationErrors{{
			Field:   "request_body",
			Message: fmt.Sprintf("invalid JSON: %v", err),
		}}
	}
	return Struct(dst)
}

// Query returns middleware that checks URL query parameters against
// validator tags, e.g. {"limit": "omitempty,numeric"}.
func Query(rules map[string]string) func(http.Handler) http.Handler {
	params := make([]string, 0, len(rules))
	for p := range rules {
		params = append(params, p)
	}
	sort.Strings(params)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			var errs ValidationErrors
			for _, p := range params {
				value := query.Get(p)
				if err := Validate.Var(value, rules[p]); err != nil {
					errs = append(errs, ValidationError{
						Field:   p,
						Value:   value,
						Message: fmt.Sprintf("must satisfy %q", rules[p]),
					})
				}
			}
			if len(errs) > 0 {
				WriteErrors(w, http.StatusBadRequest, errs)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes err as a JSON validation response. Non-validation
// errors are wrapped into a single entry.
func WriteError(w http.ResponseWriter, status int, err error) {
	var errs ValidationErrors
	if !errors.As(err, &errs) {
		var one ValidationError
		if errors.As(err, &one) {
			errs = ValidationErrors{one}
		} else {
			errs = ValidationErrors{{Field: "request", Message: err.Error()}}
		}
	}
	WriteErrors(w, status, errs)
}

// WriteErrors writes validation errors as JSON response
func WriteErrors(w http.ResponseWriter, status int, errs ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	data, err := MarshalValidationErrors(errs)
	if err != nil {
		_, _ = w.Write([]byte(`{"errors":[{"field":"validation","message":"internal validation error"}],"count":1}`))
		return
	}
	_, _ = w.Write(data)
}
