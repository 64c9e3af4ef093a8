package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the JSON error envelope every endpoint returns on failure.
// Details is only present for request validation failures, keyed by field.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidationHelper wraps one shared validator instance for request structs.
type ValidationHelper struct {
	validate *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{validate: validator.New()}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validate.Struct(s)
}

// SendErrorResponse writes the error envelope. When err carries
// validator.ValidationErrors, the per-field failures are included as details.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, err error) {
	resp := ErrorResponse{Error: message}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		resp.Details = make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			resp.Details[fe.Field()] = fmt.Sprintf("failed the '%s' constraint", fe.Tag())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
