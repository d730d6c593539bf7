package federation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	fedErrors "github.com/centauron/federation-node/federationClient/errors"
	"github.com/centauron/federation-node/federationClient/store"
)

// Handler processes one inbox message.
type Handler interface {
	Handle(ctx context.Context, msg *store.InboxMessage, env *Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *store.InboxMessage, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, msg *store.InboxMessage, env *Envelope) error {
	return f(ctx, msg, env)
}

// Dispatcher maps content types to handlers. Keys without an entry go to
// the fallback.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[ContentType]Handler
	fallback Handler
}

func NewDispatcher(fallback Handler) *Dispatcher {
	return &Dispatcher{handlers: map[ContentType]Handler{}, fallback: fallback}
}

func (d *Dispatcher) Register(ct ContentType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[ct] = h
}

// Lookup selects the handler for env by its dispatch key.
func (d *Dispatcher) Lookup(env *Envelope) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[ContentType(env.DispatchKey())]; ok {
		return h
	}
	return d.fallback
}

// Registered lists content types that have a handler.
func (d *Dispatcher) Registered() []ContentType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ContentType, 0, len(d.handlers))
	for _, ct := range ContentTypes {
		if _, ok := d.handlers[ct]; ok {
			out = append(out, ct)
		}
	}
	return out
}

// ApplicationForwarder posts messages to the application configured for
// their dispatch key.
type ApplicationForwarder struct {
	applications map[string]string
	client       *http.Client
}

func NewApplicationForwarder(applications map[string]string, timeout time.Duration) *ApplicationForwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ApplicationForwarder{applications: applications, client: &http.Client{Timeout: timeout}}
}

func (f *ApplicationForwarder) Handle(ctx context.Context, msg *store.InboxMessage, env *Envelope) error {
	key := env.DispatchKey()
	if key == "" {
		return fedErrors.NewHandlerError("inbox", fmt.Sprintf("no application specified for message %d", msg.ID), nil)
	}
	url, ok := f.applications[key]
	if !ok || url == "" {
		return fedErrors.NewHandlerError("inbox", fmt.Sprintf("no application defined for message type %s", key), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(msg.Payload))
	if err != nil {
		return fedErrors.NewHandlerError("inbox", "invalid application url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.BusinessKey != "" {
		req.Header.Set(BusinessKeyHeader, msg.BusinessKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fedErrors.NewNetworkError("inbox", "forward to "+url+" failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fedErrors.NewHandlerError("inbox", fmt.Sprintf("application %s answered %d", key, resp.StatusCode), nil)
	}
	return nil
}

// ForwardedContentTypes are handled by external applications.
var ForwardedContentTypes = []ContentType{
	ContentSubmission,
	ContentSubmissionResult,
	ContentLeaderboard,
	ContentProjectInvitation,
	ContentProjectInvitationResponse,
	ContentGroundTruthSchema,
}

// RegisterDirectoryHandlers installs the built-in handlers for node, profile
// and project messages, and routes forwarded content types to forward.
func RegisterDirectoryHandlers(d *Dispatcher, dir *Directory, forward Handler) {
	d.Register(ContentNode, HandlerFunc(func(ctx context.Context, _ *store.InboxMessage, env *Envelope) error {
		_, err := dir.ImportNode(ctx, env)
		return err
	}))
	d.Register(ContentProfile, HandlerFunc(func(ctx context.Context, _ *store.InboxMessage, env *Envelope) error {
		_, err := dir.ImportProfile(ctx, env)
		return err
	}))
	d.Register(ContentProject, HandlerFunc(func(ctx context.Context, _ *store.InboxMessage, env *Envelope) error {
		_, err := dir.ImportProject(ctx, env)
		return err
	}))
	d.Register(ContentTest, HandlerFunc(func(ctx context.Context, msg *store.InboxMessage, env *Envelope) error {
		dir.logger.Info().Uint("message_id", msg.ID).Str("from", env.From).Msg("test message received")
		return nil
	}))
	for _, ct := range ForwardedContentTypes {
		d.Register(ct, forward)
	}
}
