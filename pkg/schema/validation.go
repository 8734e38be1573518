package schema

import "sort"

// Issues is the flattened form of a failed validation. FieldErrors is keyed by
// the top-level property the failure belongs to; FormErrors holds failures
// that belong to no single property.
type Issues struct {
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
	FormErrors  []string            `json:"formErrors,omitempty"`
}

// Empty returns true if no failure was recorded.
func (i *Issues) Empty() bool {
	return i == nil || (len(i.FieldErrors) == 0 && len(i.FormErrors) == 0)
}

// AddField records a failure against a property. Duplicate messages for the
// same property are dropped.
func (i *Issues) AddField(field, message string) {
	if i.FieldErrors == nil {
		i.FieldErrors = make(map[string][]string)
	}
	for _, m := range i.FieldErrors[field] {
		if m == message {
			return
		}
	}
	i.FieldErrors[field] = append(i.FieldErrors[field], message)
}

// AddForm records a failure that belongs to the value as a whole.
func (i *Issues) AddForm(message string) {
	for _, m := range i.FormErrors {
		if m == message {
			return
		}
	}
	i.FormErrors = append(i.FormErrors, message)
}

// Fields returns the failing property names in sorted order.
func (i *Issues) Fields() []string {
	if i == nil {
		return nil
	}
	out := make([]string, 0, len(i.FieldErrors))
	for k := range i.FieldErrors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ToError converts the issues into a parse error with the given code
// (ErrCodeInputParse or ErrCodeOutputParse). Returns nil when empty.
func (i *Issues) ToError(code string) *ActionError {
	if i.Empty() {
		return nil
	}
	msg := "Input validation failed"
	if code == ErrCodeOutputParse {
		msg = "Output validation failed"
	}
	return NewError(code, msg).
		WithFieldErrors(i.FieldErrors).
		WithFormErrors(i.FormErrors)
}
