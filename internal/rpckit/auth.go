package rpckit

import (
	"slices"
	"strings"
)

// AuthClassifier decides which server errors mean the session is no longer
// authenticated. The observed codes and messages are not an exhaustive list,
// so deployments can extend the table through configuration.
type AuthClassifier struct {
	Codes    []int
	Messages []string
}

func DefaultAuthClassifier() AuthClassifier {
	return AuthClassifier{
		Codes:    []int{207, -32001},
		Messages: []string{"not authenticated", "invalid session"},
	}
}

// With returns a copy extended with extra codes and message fragments.
func (c AuthClassifier) With(codes []int, messages []string) AuthClassifier {
	out := AuthClassifier{
		Codes:    slices.Clone(c.Codes),
		Messages: slices.Clone(c.Messages),
	}
	for _, code := range codes {
		if !slices.Contains(out.Codes, code) {
			out.Codes = append(out.Codes, code)
		}
	}
	for _, msg := range messages {
		msg = strings.ToLower(strings.TrimSpace(msg))
		if msg != "" && !slices.Contains(out.Messages, msg) {
			out.Messages = append(out.Messages, msg)
		}
	}
	return out
}

func (c AuthClassifier) Classify(rpcErr *Error) bool {
	if rpcErr == nil {
		return false
	}
	if slices.Contains(c.Codes, rpcErr.Code) {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, fragment := range c.Messages {
		if fragment != "" && strings.Contains(msg, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// KindFor maps a server error to either KindAuth or KindApplication.
func (c AuthClassifier) KindFor(rpcErr *Error) Kind {
	if c.Classify(rpcErr) {
		return KindAuth
	}
	return KindApplication
}
