package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var (
	validate *validator.Validate
	trans    ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic(fmt.Sprintf("register validator translations: %v", err))
	}
}

// errBadJSON marks a body that could not be decoded.
var errBadJSON = errors.New("malformed JSON body")

// decodeJSON reads r's body into dst and validates it. A decode failure
// returns errBadJSON; a validation failure returns a field error map.
func decodeJSON(r *http.Request, dst any) (map[string]string, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return map[string]string{"detail": err.Error()}, errBadJSON
	}
	if err := validate.Struct(dst); err != nil {
		return translateErrors(err), nil
	}
	return nil, nil
}

// translateErrors maps a validation error to field path → message.
func translateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe.Namespace())] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// fieldPath drops the root struct name from a validator namespace,
// e.g. "createScenarioRequest.questions[0].text" becomes "questions[0].text".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
