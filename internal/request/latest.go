package request

import (
	"context"
	"sync"
)

// Latest owns the single live token for one semantic resource (for example
// "the flights list"). Renew cancels the previous token before handing out a
// new one, so a stale response can never be applied after a fresher request
// was issued.
type Latest struct {
	mu  sync.Mutex
	cur *Token
}

// Renew cancels the current token, if any, and returns a fresh one.
func (l *Latest) Renew(parent context.Context) *Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur != nil {
		l.cur.Cancel()
	}
	l.cur = NewToken(parent)
	return l.cur
}

// Cancel cancels the current token without replacing it.
func (l *Latest) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur != nil {
		l.cur.Cancel()
	}
}

// IsCurrent reports whether tok is still the live token.
func (l *Latest) IsCurrent(tok *Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur == tok && !tok.Cancelled()
}
