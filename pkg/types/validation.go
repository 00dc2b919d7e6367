package types

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	entityIDTag   = "entityid"
	entityIDText  = "{0} must be 1-64 letters, digits, underscores or hyphens"
	entityIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	requiredTag  = "required"
	requiredText = "{0} is required"
)

// fieldLabels maps JSON field names to the labels used in client-facing errors.
var fieldLabels = map[string]string{
	"content":        "Content",
	"senderId":       "Sender ID",
	"receiverId":     "Receiver ID",
	"sectionId":      "Section ID",
	"gradeLevelId":   "Grade level ID",
	"images":         "Images",
	"image":          "Image",
	"messageId":      "Message ID",
	"userId":         "User ID",
	"notificationId": "Notification ID",
}

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(entityIDTag, func(fl validator.FieldLevel) bool {
		return IsValidID(fl.Field().String())
	})
	registerTranslation(entityIDTag, entityIDText, false)
	registerTranslation(requiredTag, requiredText, true)
}

func registerTranslation(tag, text string, override bool) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, Label(fe.Field()))
			return s
		},
	)
}

// Label returns the human label for a JSON field name, or the name itself.
func Label(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field that failed validation. Its Error()
// is the first field's message, which is what socket clients receive.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	return e.Fields[0].Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a single-field ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Validate runs struct validation and converts failures to *ValidationError.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate")
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: fe.Translate(translator)})
	}
	return out
}

// DecodePayload unmarshals an event payload into v and validates it.
func DecodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return NewValidationError("data", "Payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return NewValidationError(typeErr.Field, Label(typeErr.Field)+" must be a "+typeErr.Type.String())
		}
		return NewValidationError("data", "Malformed payload")
	}
	return Validate(v)
}

// DecodeID unmarshals a payload that is a bare JSON string id, such as the
// data of authenticate or section_all_messages.
func DecodeID(raw json.RawMessage, field string) (string, error) {
	var id string
	if len(raw) == 0 || json.Unmarshal(raw, &id) != nil {
		id = ""
	}
	if err := CheckID(id, field); err != nil {
		return "", err
	}
	return id, nil
}

// CheckID validates an id taken from a path, query string or bare payload.
func CheckID(id, field string) error {
	if id == "" {
		return NewValidationError(field, Label(field)+" is required")
	}
	if !IsValidID(id) {
		return NewValidationError(field, strings.Replace(entityIDText, "{0}", Label(field), 1))
	}
	return nil
}

// IsValidID checks the shape of user, section, grade level and message ids.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return entityIDRegex.MatchString(id)
}
