package settings

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lysyi3m/stoa/app/blackout"
	"github.com/lysyi3m/stoa/app/model"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("timeofday", func(fl validator.FieldLevel) bool {
		_, err := blackout.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})

	_ = v.RegisterValidation("feedurl", func(fl validator.FieldLevel) bool {
		raw := strings.ReplaceAll(fl.Field().String(), "{topic}", "topic")
		u, err := url.Parse(raw)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		s := sl.Current().Interface().(Scheduler)
		if (s.BlackoutStart == "") != (s.BlackoutEnd == "") {
			sl.ReportError(s.BlackoutEnd, "blackout_end", "BlackoutEnd", "paired", "")
		}
		if s.BlackoutStart != "" && s.BlackoutStart == s.BlackoutEnd {
			sl.ReportError(s.BlackoutEnd, "blackout_end", "BlackoutEnd", "nefield", "blackout_start")
		}
	}, Scheduler{})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		w := sl.Current().Interface().(FormatWeights)
		if w.Total() <= 0 {
			sl.ReportError(w.Short, "short", "Short", "positive_total", "")
		}
	}, FormatWeights{})

	return v
}

// validationError flattens validator errors into a single ErrInvalidSettings.
func validationError(key Key, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %s: %v", model.ErrInvalidSettings, key, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
			field = rest
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", field, describeTag(fe)))
	}
	return fmt.Errorf("%w: %s: %s", model.ErrInvalidSettings, key, strings.Join(msgs, "; "))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "paired":
		return "validation: blackout_start and blackout_end must be set together"
	case "nefield":
		return "validation: blackout_start and blackout_end must differ"
	case "positive_total":
		return "validation: format weights must add up to more than zero"
	}
	if fe.Param() != "" {
		return fmt.Sprintf("validation '%s=%s'", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("validation '%s'", fe.Tag())
}
