package provider

import (
	"errors"
	"strings"
)

// ErrEmptyReply marks a model reply with no usable text.
var ErrEmptyReply = errors.New("model returned empty content")

// refusalPhrases are fragments a chat model emits instead of doing the work.
// A reply containing any of them is treated as a failed attempt so the
// cascade moves on to the next model.
var refusalPhrases = []string{
	"cannot process", "not capable", "i am not able",
	"unable to", "i'm not able", "cannot directly process",
	"i'm a large language model", "i am a large language model",
	"unfortunately", "i am not capable of directly processing",
	"i'm not capable", "cannot directly", "unable to process",
}

// ValidateReply rejects empty replies and refusal boilerplate. The returned
// error says which phrase tripped the check.
func ValidateReply(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyReply
	}
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return errors.New("model reports it cannot handle the input: " + phrase)
		}
	}
	return nil
}
