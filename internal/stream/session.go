package stream

import (
	"strings"
	"sync"
)

// Session accumulates the reply text of one conversation. Tokens on the same
// logical line are joined with a single space; the end marker starts a new
// line. All mutation happens from UI-thread tasks, the mutex only guards
// readers on other goroutines (status, tests).
type Session struct {
	mu     sync.Mutex
	buf    strings.Builder
	tokens int
}

func NewSession() *Session {
	return &Session{}
}

// Append adds one token.
func (s *Session) Append(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(token)
	s.tokens++
}

// End appends the end-of-response marker. It is never space-joined.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteByte('\n')
}

func (s *Session) appendLocked(token string) {
	if s.buf.Len() > 0 && !strings.HasSuffix(s.buf.String(), "\n") {
		s.buf.WriteByte(' ')
	}
	s.buf.WriteString(token)
}

// Render returns the display text: the buffer split on newlines with
// trailing empty segments dropped, so it never ends in a newline.
func (s *Session) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Render(s.buf.String())
}

// Text returns the raw buffer.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Tokens returns how many tokens were appended since the last Reset.
func (s *Session) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Reset starts a new session.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.tokens = 0
}

// Render applies the display rule to a raw buffer.
func Render(buf string) string {
	segments := strings.Split(buf, "\n")
	n := len(segments)
	for n > 0 && segments[n-1] == "" {
		n--
	}
	return strings.Join(segments[:n], "\n")
}
