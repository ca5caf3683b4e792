package models

import (
	"errors"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ValidationError{Field: "gpus_requested", Detail: "must be >= 0"}, "validation error: gpus_requested: must be >= 0"},
		{&NotFoundError{Entity: "job", Key: "42"}, "job not found: 42"},
		{&ConflictError{Detail: "session name in use"}, "conflict: session name in use"},
		{&ServiceUnavailableError{Reason: ReasonRecovery}, "service unavailable: Recovery"},
		{&ExecutorError{Kind: ExecutorSpawn, Name: "job-17"}, "executor error (Spawn): job-17"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}
}

func TestErrorsAsTypeSwitch(t *testing.T) {
	var err error = &NotFoundError{Entity: "job", Key: "9"}

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatal("expected errors.As to match *NotFoundError")
	}
	if nf.Key != "9" {
		t.Errorf("got key %q", nf.Key)
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		t.Error("NotFoundError should not match ValidationError")
	}
}
