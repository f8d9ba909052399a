package rpckit

import "testing"

func TestDefaultAuthClassifier(t *testing.T) {
	c := DefaultAuthClassifier()
	cases := []struct {
		err  *Error
		want bool
	}{
		{err: &Error{Code: 207, Message: "anything"}, want: true},
		{err: &Error{Code: -32001, Message: "Not authorized"}, want: true},
		{err: &Error{Code: 13, Message: "Not Authenticated"}, want: true},
		{err: &Error{Code: 1, Message: "call failed: invalid session id"}, want: true},
		{err: &Error{Code: 22, Message: "pool does not exist"}, want: false},
		{err: nil, want: false},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%+v)=%v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestAuthClassifierWithExtendsWithoutMutating(t *testing.T) {
	base := DefaultAuthClassifier()
	ext := base.With([]int{401, 207}, []string{"  Token Expired "})

	if !ext.Classify(&Error{Code: 401}) {
		t.Fatal("expected extended code to classify as auth")
	}
	if !ext.Classify(&Error{Code: 5, Message: "token expired at 12:00"}) {
		t.Fatal("expected extended message to classify as auth")
	}
	if base.Classify(&Error{Code: 401}) {
		t.Fatal("base classifier must not be mutated")
	}
	if len(ext.Codes) != 3 {
		t.Fatalf("expected duplicate code to be ignored, got %v", ext.Codes)
	}
	if ext.KindFor(&Error{Code: 2}) != KindApplication {
		t.Fatal("expected application kind for unknown code")
	}
}
