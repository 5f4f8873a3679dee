package datasource

import (
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// NoticeRouter forwards server notices to the listener attached to the
// connection that received them. A ConnectionManager installs its router as
// OnNotice on every pooled connection, so every driver sharing the manager
// must attach through the same router.
type NoticeRouter struct {
	mu        sync.Mutex
	listeners map[*pgconn.PgConn]func(*pgconn.Notice)
}

// NewNoticeRouter returns an empty router.
func NewNoticeRouter() *NoticeRouter {
	return &NoticeRouter{listeners: make(map[*pgconn.PgConn]func(*pgconn.Notice))}
}

// Handle is a pgconn.NoticeHandler. Notices arriving with no listener
// attached are dropped.
func (r *NoticeRouter) Handle(conn *pgconn.PgConn, n *pgconn.Notice) {
	r.mu.Lock()
	fn := r.listeners[conn]
	r.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Attach routes notices of conn to fn until the returned detach is called.
func (r *NoticeRouter) Attach(conn *pgconn.PgConn, fn func(*pgconn.Notice)) (detach func()) {
	r.mu.Lock()
	r.listeners[conn] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, conn)
		r.mu.Unlock()
	}
}
