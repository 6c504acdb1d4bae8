// Package workflow is the dossier workflow core.  It sequences a product's
// steps for a dossier, runs the validation lifecycle of each step instance,
// keeps the append-only document version ledger and exposes the staff
// override operations.  Clients reach it through ClientFacing, staff
// through AdminFacing; both are implemented by *Engine over one model.Store.
package workflow

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// BlobStore persists uploaded file content.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// URLSigner issues and verifies expiring file tokens for document versions.
type URLSigner interface {
	Sign(versionID uint64, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (uint64, error)
}

// Notifier is the fire-and-forget notification side channel.  Notify must
// not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n model.Notification)

func (f NotifierFunc) Notify(ctx context.Context, n model.Notification) { f(ctx, n) }

// Options configures an Engine.  Zero values pick defaults.
type Options struct {
	Logger      *zap.Logger
	Notifier    Notifier
	FileURLTTL  time.Duration
	FileBaseURL string
	Now         func() time.Time
}

// Engine implements ClientFacing and AdminFacing.
type Engine struct {
	store    model.Store
	blobs    BlobStore
	signer   URLSigner
	notifier Notifier
	log      *zap.Logger
	fileTTL  time.Duration
	fileBase string
	now      func() time.Time
}

var (
	_ ClientFacing = (*Engine)(nil)
	_ AdminFacing  = (*Engine)(nil)
)

const (
	defaultFileURLTTL = 15 * time.Minute
	maxTxAttempts     = 3
	minReasonLength   = 10
)

// New wires an Engine.
func New(store model.Store, blobs BlobStore, signer URLSigner, opts Options) *Engine {
	e := &Engine{
		store:    store,
		blobs:    blobs,
		signer:   signer,
		notifier: opts.Notifier,
		log:      opts.Logger,
		fileTTL:  opts.FileURLTTL,
		fileBase: opts.FileBaseURL,
		now:      opts.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.With(zap.String("component", "workflow"))
	if e.fileTTL <= 0 {
		e.fileTTL = defaultFileURLTTL
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// withRetry runs fn in a transaction, retrying on ErrConflict.
func (e *Engine) withRetry(ctx context.Context, fn func(tx model.Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = e.store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, model.ErrConflict) {
			return err
		}
		e.log.Debug("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

// notify hands notifications to the dispatcher once the mutation committed.
func (e *Engine) notify(ctx context.Context, notes ...model.Notification) {
	if e.notifier == nil {
		return
	}
	for _, n := range notes {
		if n.CreatedAt.IsZero() {
			n.CreatedAt = e.clock()
		}
		e.notifier.Notify(ctx, n)
	}
}
