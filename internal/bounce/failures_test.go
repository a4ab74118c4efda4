package bounce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome Outcome
		want    bool
	}{
		{name: "5xx status", outcome: Outcome{Status: "5.1.1"}, want: true},
		{name: "5xx with whitespace", outcome: Outcome{Status: " 5.2.2"}, want: true},
		{name: "4xx status", outcome: Outcome{Status: "4.2.2", Reason: "try later"}, want: false},
		{name: "2xx status", outcome: Outcome{Status: "2.0.0"}, want: false},
		{name: "empty status", outcome: Outcome{Reason: "b@y.com"}, want: false},
		{name: "inbox full phrase", outcome: Outcome{Status: "4.2.2", Reason: "The recipient's Inbox Full"}, want: true},
		{name: "overquota phrase", outcome: Outcome{Reason: "user is OverQuota"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsPermanent(tt.outcome))
		})
	}
}

func TestFailureSet_RecordAndLookup(t *testing.T) {
	t.Parallel()

	s := NewFailureSet()

	assert.True(t, s.Record(Outcome{Email: "A@X.com", Status: "5.2.2", Reason: "mailbox full"}))
	assert.False(t, s.Record(Outcome{Email: "b@x.com", Status: "4.4.1", Reason: "timeout"}))
	assert.False(t, s.Record(Outcome{Email: "", Status: "5.0.0"}))

	f, ok := s.Lookup("a@x.COM")
	require.True(t, ok)
	assert.Equal(t, Failure{Status: "5.2.2", Reason: "mailbox full"}, f)

	_, ok = s.Lookup("b@x.com")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestFailureSet_LastWriteWins(t *testing.T) {
	t.Parallel()

	s := NewFailureSet()
	s.Record(Outcome{Email: "a@x.com", Status: "5.1.1", Reason: "first"})
	s.Record(Outcome{Email: "a@x.com", Status: "4.2.2", Reason: "soft"})
	s.Record(Outcome{Email: "a@x.com", Status: "5.7.1", Reason: "last"})

	f, ok := s.Lookup("a@x.com")
	require.True(t, ok)
	assert.Equal(t, Failure{Status: "5.7.1", Reason: "last"}, f)
	assert.Equal(t, 1, s.Len())
}
