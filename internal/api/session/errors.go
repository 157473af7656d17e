package session

import "errors"

var errSessionNotFound = errors.New("session not found")
