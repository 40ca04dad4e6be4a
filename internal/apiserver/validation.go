package apiserver

import (
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// registerValidations installs custom rules on gin's binding validator.
// Registration is idempotent.
func registerValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("notblank", notBlank)
}

// notBlank rejects strings that are empty after trimming whitespace. The
// plain "required" rule accepts all-whitespace input, which would seed an
// excavation with nothing to excavate.
func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
