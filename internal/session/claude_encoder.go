package session

import "strconv"

// ClaudeEncoder implements NudgeEncoder and RespondEncoder for the Claude
// Code TUI's keystroke conventions: permission/setup/plan prompts accept a
// digit, plan feedback and freeform question answers go through the
// "up-arrow into the freeform field, type, enter" sequence, and nudges are
// the message text paced by length before a terminating carriage return.
// Ported from original_source driver/claude (ClaudeNudgeEncoder /
// ClaudeRespondEncoder, grounded on encoding_tests.rs since the
// implementation file itself was filtered out of the retrieval pack).
type ClaudeEncoder struct {
	Pacing PacingConfig
}

func digitStep(option int) NudgeStep {
	return NudgeStep{Bytes: []byte(strconv.Itoa(option))}
}

// Encode implements NudgeEncoder: message text paced by length, then CR.
func (e ClaudeEncoder) Encode(message string) []NudgeStep {
	return []NudgeStep{
		{Bytes: []byte(message), DelayAfter: e.Pacing.NudgeDelay(len(message))},
		{Bytes: []byte("\r")},
	}
}

// EncodePermission sends the chosen option's digit key.
func (e ClaudeEncoder) EncodePermission(option int) []NudgeStep {
	return []NudgeStep{digitStep(option)}
}

// EncodeSetup sends the chosen option's digit key.
func (e ClaudeEncoder) EncodeSetup(option int) []NudgeStep {
	return []NudgeStep{digitStep(option)}
}

// EncodePlan sends a bare digit for a canned option, or navigates to the
// freeform feedback field (up-arrow, type, enter) when feedback is given.
func (e ClaudeEncoder) EncodePlan(option int, feedback *string) []NudgeStep {
	if feedback == nil {
		return []NudgeStep{digitStep(option)}
	}
	return []NudgeStep{
		{Bytes: []byte("\x1b[A"), DelayAfter: e.Pacing.Base},
		{Bytes: []byte(*feedback), DelayAfter: e.Pacing.Base},
		{Bytes: []byte("\r")},
	}
}

// EncodeQuestion encodes the given answers of a (possibly multi-question)
// dialog: a picked option becomes a bare digit, freeform text navigates
// to the feedback field first (up-arrow, type, enter). Every step but the
// last carries the base pacing delay; when all of a multi-question
// dialog's answers are delivered in one call, a final confirming Enter is
// appended (the per-answer steps only advance between questions).
func (e ClaudeEncoder) EncodeQuestion(answers []QuestionAnswer, totalQuestions int) []NudgeStep {
	if len(answers) == 0 {
		return nil
	}
	var steps []NudgeStep
	for _, a := range answers {
		switch {
		case a.Option != nil:
			steps = append(steps, NudgeStep{Bytes: []byte(strconv.Itoa(*a.Option)), DelayAfter: e.Pacing.Base})
		case a.Text != nil:
			steps = append(steps,
				NudgeStep{Bytes: []byte("\x1b[A"), DelayAfter: e.Pacing.Base},
				NudgeStep{Bytes: []byte(*a.Text), DelayAfter: e.Pacing.Base},
				NudgeStep{Bytes: []byte("\r"), DelayAfter: e.Pacing.Base},
			)
		}
	}
	if totalQuestions > 1 && len(answers) == totalQuestions {
		steps = append(steps, NudgeStep{Bytes: []byte("\r"), DelayAfter: e.Pacing.Base})
	}
	steps[len(steps)-1].DelayAfter = 0
	return steps
}
