package event

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var timeOfDay = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// IsTimeOfDay reports whether v is an HH:MM 24-hour time. "9:30" is accepted.
func IsTimeOfDay(v string) bool {
	return timeOfDay.MatchString(v)
}

// IsImageRef accepts http(s) URLs and inlined data:image/ URLs.
func IsImageRef(v string) bool {
	lower := strings.ToLower(strings.TrimSpace(v))

	return strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "data:image/")
}

// RegisterValidators installs the event tags on v. The gin binding engine
// and the standalone validator share it.
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return err
	}

	if err := v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return IsTimeOfDay(fl.Field().String())
	}); err != nil {
		return err
	}

	return v.RegisterValidation("imageref", func(fl validator.FieldLevel) bool {
		return IsImageRef(fl.Field().String())
	})
}

var (
	standaloneOnce sync.Once
	standalone     *validator.Validate
)

// Validate checks req with the same rules the HTTP binding applies. Used by
// callers that do not go through gin (the CLI).
func Validate(req CreateEventRequest) error {
	standaloneOnce.Do(func() {
		standalone = validator.New()
		standalone.SetTagName("binding")

		if err := RegisterValidators(standalone); err != nil {
			panic(err)
		}
	})

	return standalone.Struct(req)
}
