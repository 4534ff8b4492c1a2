package session

import (
	"errors"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errNoStack = errors.New("exec: \"stack\": executable file not found in $PATH")
