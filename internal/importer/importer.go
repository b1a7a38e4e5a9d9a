package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"logistics/api/internal/store"
	"logistics/api/internal/util"
)

const msgSuccess = "Successfully imported!"

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is the message shown next to the import form. Success notices expire;
// error notices stay until the next submission.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (n *Notice) Visible(now time.Time) bool {
	if n == nil {
		return false
	}
	return n.ExpiresAt == nil || now.Before(*n.ExpiresAt)
}

// Form is the per-client state of the import screen.
type Form struct {
	Buffer string  `json:"buffer"`
	Notice *Notice `json:"notice,omitempty"`
}

// Prune drops an expired notice.
func (f Form) Prune(now time.Time) Form {
	if !f.Notice.Visible(now) {
		f.Notice = nil
	}
	return f
}

// Appender receives validated batches.
type Appender interface {
	Append(ctx context.Context, batch []store.Company) error
}

type Importer struct {
	registry Appender
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

func New(registry Appender, noticeTTL time.Duration, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{
		registry: registry,
		ttl:      noticeTTL,
		log:      log,
		now:      time.Now,
		newID:    func() string { return util.NewID("") },
	}
}

// Submit imports the pasted buffer of form.
func (i *Importer) Submit(ctx context.Context, form Form) (Form, []store.Company, error) {
	if isBlank(form.Buffer) {
		form.Notice = &Notice{Kind: NoticeError, Message: ErrEmptyInput.Error()}
		return form, nil, ErrEmptyInput
	}
	return i.process(ctx, form, form.Buffer)
}

// SubmitFile imports an uploaded file. The pasted buffer is treated the same
// way as on a paste import.
func (i *Importer) SubmitFile(ctx context.Context, form Form, r io.Reader) (Form, []store.Company, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		form.Notice = &Notice{Kind: NoticeError, Message: msgBadJSON}
		return form, nil, fmt.Errorf("read import file: %w", err)
	}
	return i.process(ctx, form, string(data))
}

func (i *Importer) process(ctx context.Context, form Form, text string) (Form, []store.Company, error) {
	batch, err := ProcessJSON(text, i.newID)
	if err != nil {
		i.log.Info("import rejected", zap.Error(err))
		form.Notice = &Notice{Kind: NoticeError, Message: err.Error()}
		return form, nil, err
	}
	if err := i.registry.Append(ctx, batch); err != nil {
		form.Notice = &Notice{Kind: NoticeError, Message: err.Error()}
		return form, nil, err
	}

	expires := i.now().Add(i.ttl)
	form.Buffer = ""
	form.Notice = &Notice{Kind: NoticeSuccess, Message: msgSuccess, ExpiresAt: &expires}
	i.log.Info("import merged", zap.Int("companies", len(batch)))
	return form, batch, nil
}
