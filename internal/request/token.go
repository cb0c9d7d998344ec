package request

import "context"

// Token is a cooperative cancellation handle. Every suspension point in
// Execute checks it, and the operation receives its Context so transports
// abort in-flight I/O when Cancel is called.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewToken returns a Token that is also cancelled when parent is done.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel signals abort. Safe to call more than once.
func (t *Token) Cancel() { t.cancel() }

func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

func (t *Token) Cancelled() bool { return t.ctx.Err() != nil }

func (t *Token) Context() context.Context { return t.ctx }

// child derives a per-call token so superseding a call never cancels the
// caller's own token.
func (t *Token) child() *Token { return NewToken(t.ctx) }
