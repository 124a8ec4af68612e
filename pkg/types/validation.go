package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MinUsernameLength is the shortest display name accepted on join.
const MinUsernameLength = 2

var validate = validator.New()

// ValidUsername checks the length bounds of the username as sent, counted
// in characters. maxLength <= 0 disables the upper bound.
func (e JoinEvent) ValidUsername(maxLength int) (string, error) {
	username := e.Username
	rule := fmt.Sprintf("min=%d", MinUsernameLength)
	if maxLength > 0 {
		rule = fmt.Sprintf("%s,max=%d", rule, maxLength)
	}
	if err := validate.Var(username, rule); err != nil {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// ValidContent checks that the content is not empty and, when maxLength is
// positive, not longer than maxLength characters. Whitespace counts as
// content.
func (e MessageEvent) ValidContent(maxLength int) (string, error) {
	if err := validate.Var(e.Content, "required"); err != nil {
		return "", ErrEmptyMessage
	}
	if maxLength > 0 {
		if err := validate.Var(e.Content, fmt.Sprintf("max=%d", maxLength)); err != nil {
			return "", ErrMessageTooLong
		}
	}
	return e.Content, nil
}
