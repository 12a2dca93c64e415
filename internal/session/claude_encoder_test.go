package session

import (
	"strings"
	"testing"
	"time"
)

func testEncoder() ClaudeEncoder {
	return ClaudeEncoder{Pacing: PacingConfig{Base: 200 * time.Millisecond, PerByte: time.Millisecond, Cap: time.Hour}}
}

func strPtr(s string) *string { return &s }
func intPtr2(v int) *int      { return &v }

func TestClaudeEncoderNudgeEncodesMessageThenEnter(t *testing.T) {
	steps := testEncoder().Encode("Fix the bug")
	if len(steps) != 2 || string(steps[0].Bytes) != "Fix the bug" || string(steps[1].Bytes) != "\r" {
		t.Fatalf("unexpected steps: %+v", steps)
	}
	if steps[0].DelayAfter != 200*time.Millisecond {
		t.Fatalf("expected base delay for short message, got %v", steps[0].DelayAfter)
	}
	if steps[1].DelayAfter != 0 {
		t.Fatal("expected no trailing delay on final step")
	}
}

func TestClaudeEncoderNudgeDelayScalesWithLength(t *testing.T) {
	msg := strings.Repeat("x", 1024)
	steps := testEncoder().Encode(msg)
	if steps[0].DelayAfter != 968*time.Millisecond {
		t.Fatalf("expected 968ms, got %v", steps[0].DelayAfter)
	}
}

func TestClaudeEncoderPermissionSendsDigit(t *testing.T) {
	steps := testEncoder().EncodePermission(2)
	if len(steps) != 1 || string(steps[0].Bytes) != "2" || steps[0].DelayAfter != 0 {
		t.Fatalf("unexpected steps: %+v", steps)
	}
}

func TestClaudeEncoderPlanOptionWithoutFeedbackSendsDigit(t *testing.T) {
	steps := testEncoder().EncodePlan(4, nil)
	if len(steps) != 1 || string(steps[0].Bytes) != "4" || steps[0].DelayAfter != 0 {
		t.Fatalf("unexpected steps: %+v", steps)
	}
}

func TestClaudeEncoderPlanFeedbackNavigatesToFreeform(t *testing.T) {
	steps := testEncoder().EncodePlan(4, strPtr("Don't modify the schema"))
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if string(steps[0].Bytes) != "\x1b[A" || steps[0].DelayAfter != 200*time.Millisecond {
		t.Fatalf("unexpected step0: %+v", steps[0])
	}
	if string(steps[1].Bytes) != "Don't modify the schema" || steps[1].DelayAfter != 200*time.Millisecond {
		t.Fatalf("unexpected step1: %+v", steps[1])
	}
	if string(steps[2].Bytes) != "\r" || steps[2].DelayAfter != 0 {
		t.Fatalf("unexpected step2: %+v", steps[2])
	}
}

func TestClaudeEncoderQuestionSingleOptionNoDelayNoConfirm(t *testing.T) {
	steps := testEncoder().EncodeQuestion([]QuestionAnswer{{Option: intPtr2(2)}}, 1)
	if len(steps) != 1 || string(steps[0].Bytes) != "2" || steps[0].DelayAfter != 0 {
		t.Fatalf("unexpected steps: %+v", steps)
	}
}

func TestClaudeEncoderQuestionSingleFreeform(t *testing.T) {
	steps := testEncoder().EncodeQuestion([]QuestionAnswer{{Text: strPtr("Use Redis instead")}}, 1)
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[0].DelayAfter != 200*time.Millisecond || steps[1].DelayAfter != 200*time.Millisecond || steps[2].DelayAfter != 0 {
		t.Fatalf("unexpected delays: %+v", steps)
	}
}

func TestClaudeEncoderQuestionEmptyAnswers(t *testing.T) {
	if steps := testEncoder().EncodeQuestion(nil, 1); len(steps) != 0 {
		t.Fatalf("expected no steps, got %+v", steps)
	}
}

func TestClaudeEncoderQuestionOneAtATimeEmitsDigitOnly(t *testing.T) {
	steps := testEncoder().EncodeQuestion([]QuestionAnswer{{Option: intPtr2(1)}}, 3)
	if len(steps) != 1 || string(steps[0].Bytes) != "1" || steps[0].DelayAfter != 0 {
		t.Fatalf("unexpected steps: %+v", steps)
	}
}

func TestClaudeEncoderQuestionAllAtOnceAppendsConfirm(t *testing.T) {
	answers := []QuestionAnswer{{Option: intPtr2(1)}, {Option: intPtr2(2)}}
	steps := testEncoder().EncodeQuestion(answers, 2)
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if string(steps[0].Bytes) != "1" || steps[0].DelayAfter != 200*time.Millisecond {
		t.Fatalf("unexpected step0: %+v", steps[0])
	}
	if string(steps[1].Bytes) != "2" || steps[1].DelayAfter != 200*time.Millisecond {
		t.Fatalf("unexpected step1: %+v", steps[1])
	}
	if string(steps[2].Bytes) != "\r" || steps[2].DelayAfter != 0 {
		t.Fatalf("unexpected confirm step: %+v", steps[2])
	}
}

func TestClaudeEncoderQuestionAllAtOnceFreeformMixed(t *testing.T) {
	answers := []QuestionAnswer{{Option: intPtr2(1)}, {Text: strPtr("custom answer")}}
	steps := testEncoder().EncodeQuestion(answers, 2)
	if len(steps) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(steps))
	}
	if string(steps[0].Bytes) != "1" || string(steps[1].Bytes) != "\x1b[A" ||
		string(steps[2].Bytes) != "custom answer" || string(steps[3].Bytes) != "\r" ||
		string(steps[4].Bytes) != "\r" {
		t.Fatalf("unexpected byte sequence: %+v", steps)
	}
	if steps[3].DelayAfter != 200*time.Millisecond || steps[4].DelayAfter != 0 {
		t.Fatalf("unexpected delays on commit/confirm: %+v", steps[3:])
	}
}
