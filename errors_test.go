package notify

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newError(ErrIO, cause, "/tmp/x")

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through *Error to its cause")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("errors.As should find *Error")
	}
	if e.Kind != ErrIO {
		t.Fatalf("Kind = %v, want ErrIO", e.Kind)
	}
}

func TestErrorMessageIncludesPaths(t *testing.T) {
	err := newError(ErrPathNotFound, nil, "/a", "/b")
	msg := err.Error()
	for _, want := range []string{"path-not-found", "/a", "/b"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestIsNotExist(t *testing.T) {
	err := newError(ErrPathNotFound, nil, "/gone")
	if !IsNotExist(err) {
		t.Fatal("expected IsNotExist true for ErrPathNotFound")
	}
	if IsNotExist(newError(ErrIO, nil, "/x")) {
		t.Fatal("expected IsNotExist false for ErrIO")
	}
	if IsNotExist(errors.New("plain")) {
		t.Fatal("expected IsNotExist false for a non-*Error")
	}
}
