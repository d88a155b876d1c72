package notification

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/astroacademy/backend/core"
)

var (
	typeTag  = "ntype"
	typeText = "must be one of: urgent, info, warning"

	categoryTag  = "ncategory"
	categoryText = "must be one of: solar, asteroid, satellite, weather, mission, general"

	subEmailTag  = "subemail"
	subEmailText = "enter a valid email address"
)

// InitValidators registers the notification validators on validate.
// core.InitValidators must have run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(typeTag, typeValidation)
	core.RegisterCustomTranslation(validate, translator, typeTag, typeText)

	_ = validate.RegisterValidation(categoryTag, categoryValidation)
	core.RegisterCustomTranslation(validate, translator, categoryTag, categoryText)

	_ = validate.RegisterValidation(subEmailTag, subEmailValidation)
	core.RegisterCustomTranslation(validate, translator, subEmailTag, subEmailText)
}

// Custom Validators

func typeValidation(fl validator.FieldLevel) bool {
	return Type(fl.Field().String()).IsValid()
}

func categoryValidation(fl validator.FieldLevel) bool {
	return Category(fl.Field().String()).IsValid()
}

// subEmailValidation only checks for an "@": delivery is the real test of an address.
func subEmailValidation(fl validator.FieldLevel) bool {
	return strings.Contains(fl.Field().String(), "@")
}
