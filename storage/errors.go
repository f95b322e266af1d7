package storage

import "errors"

// ErrRuleNotFound is returned when a rule of any kind is not found.
var ErrRuleNotFound = errors.New("rule not found")
