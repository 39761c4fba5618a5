package managers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Common field validators. They check or normalize a single value and
// can be combined with Chain.

// NotEmpty rejects empty strings.
var NotEmpty = FieldValidator{
	Doc: "The value must not be empty",
	Validate: func(m Manager, value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("value is not a string")
		}
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("value must not be empty")
		}
		return s, nil
	},
}

// Strip trims leading and trailing whitespace.
var Strip = FieldValidator{
	Doc: "Leading and trailing whitespace is removed",
	Validate: func(m Manager, value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("value is not a string")
		}
		return strings.TrimSpace(s), nil
	},
}

// SingleLined rejects strings with line breaks.
var SingleLined = FieldValidator{
	Doc: "The value must hold on a single line",
	Validate: func(m Manager, value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("value is not a string")
		}
		if strings.ContainsAny(s, "\r\n") {
			return nil, fmt.Errorf("value must hold on a single line")
		}
		return s, nil
	},
}

// IsUUID rejects strings that do not parse as a UUID.
var IsUUID = FieldValidator{
	Doc: "The value must be an UUID",
	Validate: func(m Manager, value interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("value is not a string")
		}
		if _, err := uuid.Parse(s); err != nil {
			return nil, fmt.Errorf("value is not an UUID")
		}
		return s, nil
	},
}

// Chain combines validators into one, run in order. The value flows
// from one validator to the next; the docs concatenate.
func Chain(validators ...FieldValidator) FieldValidator {
	docs := make([]string, 0, len(validators))
	for _, v := range validators {
		if v.Doc != "" {
			docs = append(docs, v.Doc)
		}
	}
	return FieldValidator{
		Doc: strings.Join(docs, "\n"),
		Validate: func(m Manager, value interface{}) (interface{}, error) {
			var err error
			for _, v := range validators {
				if v.Validate == nil {
					continue
				}
				value, err = v.Validate(m, value)
				if err != nil {
					return nil, err
				}
			}
			return value, nil
		},
	}
}
