package persistence

import (
	"context"
	"sync"
)

// Session scopes deferred persistence to a unit of work. Closing it flushes
// the whole context: every cached entity marked autoSave or autoDelete is
// written, including ones marked before the session was opened.
//
//	s := pc.Begin(ctx)
//	defer s.Close(ctx)
type Session struct {
	pc   *Context
	once sync.Once
	err  error
}

// Begin opens a session on pc.
func (pc *Context) Begin(_ context.Context) *Session {
	return &Session{pc: pc}
}

// Close flushes the context. Only the first call flushes; later calls
// return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.pc.Flush(ctx)
	})
	return s.err
}
