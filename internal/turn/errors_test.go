package turn

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailWrapsSentinel(t *testing.T) {
	cause := fmt.Errorf("%w: gateway timeout", ErrTranscriptionFailed)
	err := Fail(StageTranscribe, 3, cause)

	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatal("expected sentinel to be matchable through the turn error")
	}

	var turnErr *Error
	if !errors.As(err, &turnErr) {
		t.Fatal("expected errors.As to find *Error")
	}
	if turnErr.Turn != 3 || turnErr.Stage != StageTranscribe {
		t.Fatalf("unexpected turn error fields: %+v", turnErr)
	}
}

func TestErrorMessageNamesTurnAndStage(t *testing.T) {
	err := Fail(StageInfer, 7, ErrInferenceFailed)
	want := "turn 7 failed at infer: inference failed"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
