package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/auth"
	"github.com/and161185/buyvia/internal/fetchqueue"
	"github.com/and161185/buyvia/internal/transport"
)

// Options for Connect. Zero values pick defaults.
type Options struct {
	Store      auth.Store // defaults to an in-memory store
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Connect wires a session, an authenticated transport whose 401 replies log
// the session out, and a fetch queue over that transport.
func Connect(baseURL string, o Options) (*Client, error) {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sess := auth.NewSession(o.Store, auth.WithLogger(log.Named("auth")))

	topts := []transport.Option{
		transport.WithLogger(log.Named("http")),
		transport.WithTokenSource(sess),
		transport.WithUnauthorizedHandler(sess.HandleUnauthorized),
	}
	if o.HTTPClient != nil {
		topts = append(topts, transport.WithHTTPClient(o.HTTPClient))
	}
	t, err := transport.New(baseURL, topts...)
	if err != nil {
		return nil, err
	}
	q := fetchqueue.New(t, fetchqueue.WithLogger(log.Named("queue")))
	return New(t, q, sess), nil
}

// Queue exposes the catalog fetch queue.
func (c *Client) Queue() *fetchqueue.Queue { return c.q }
