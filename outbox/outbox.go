/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package outbox submits documents dropped into a directory.
//
// Every "*.json" file in the outbox directory is decoded as crpt.Document and submitted
// with the signature from the "<name>.sig" file next to it (or the default one).
// Submitted documents are moved to the "submitted" subdirectory together with the response body
// ("<name>.response"). The response file is written next to the document before the move, so a
// document whose move failed is not submitted again: the next pass only retries the move.
// Documents that can never succeed (invalid or rejected by the remote API) are moved to
// the "failed" subdirectory with a "<name>.error" file. Documents that failed because of
// transport errors stay in place and are retried on the next pass.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/acronis/go-crptclient/crpt"
	"github.com/acronis/go-crptclient/log"
)

// Subdirectories and file extensions used by Outbox.
const (
	SubmittedDir = "submitted"
	FailedDir    = "failed"

	DocumentExt  = ".json"
	SignatureExt = ".sig"
	ErrorExt     = ".error"
	ResponseExt  = ".response"
)

// DefaultConcurrency is a default number of documents submitted simultaneously.
// The number of outstanding requests is still bounded by the client's limiter capacity.
const DefaultConcurrency = 4

// Submitter submits a signed document.
type Submitter interface {
	Submit(ctx context.Context, doc *crpt.Document, signature string) (*crpt.SubmitResult, error)
}

// Opts represents an options for Outbox.
type Opts struct {
	Logger log.FieldLogger

	// Signature is used for documents without a detached signature file.
	Signature string

	// Concurrency is a number of documents submitted simultaneously. DefaultConcurrency is used by default.
	Concurrency int
}

// Summary contains results of a single outbox pass.
type Summary struct {
	Submitted int
	Failed    int
	Deferred  int
}

// Outbox submits documents from a directory.
type Outbox struct {
	dir       string
	submitter Submitter
	logger    log.FieldLogger
	signature string
	workers   int

	passMu sync.Mutex
}

// New creates a new Outbox for the directory.
func New(dir string, submitter Submitter, opts Opts) *Outbox {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Outbox{
		dir:       dir,
		submitter: submitter,
		logger:    opts.Logger.With(log.String("outbox", dir)),
		signature: opts.Signature,
		workers:   opts.Concurrency,
	}
}

// Dir returns the outbox directory.
func (o *Outbox) Dir() string {
	return o.dir
}

// Run makes a single pass and logs its summary. It implements service.Worker.
func (o *Outbox) Run(ctx context.Context) error {
	summary, err := o.Process(ctx)
	if err != nil {
		return err
	}
	if summary != (Summary{}) {
		o.logger.Info("outbox pass finished",
			log.Int("submitted", summary.Submitted),
			log.Int("failed", summary.Failed),
			log.Int("deferred", summary.Deferred))
	}
	return nil
}

// Process submits all documents currently present in the directory.
// Concurrent calls are serialized so a document is never submitted twice.
func (o *Outbox) Process(ctx context.Context) (Summary, error) {
	o.passMu.Lock()
	defer o.passMu.Unlock()

	for _, sub := range [...]string{SubmittedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(o.dir, sub), 0o750); err != nil {
			return Summary{}, fmt.Errorf("create %s directory: %w", sub, err)
		}
	}
	names, err := o.listDocuments()
	if err != nil {
		return Summary{}, err
	}

	var submitted, failed, deferred atomic.Int32
	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	for _, name := range names {
		if ctx.Err() != nil {
			deferred.Inc()
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(name string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			switch o.processDocument(ctx, name) {
			case outcomeSubmitted:
				submitted.Inc()
			case outcomeFailed:
				failed.Inc()
			default:
				deferred.Inc()
			}
		}(name)
	}
	wg.Wait()

	return Summary{
		Submitted: int(submitted.Load()),
		Failed:    int(failed.Load()),
		Deferred:  int(deferred.Load()),
	}, nil
}

func (o *Outbox) listDocuments() ([]string, error) {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return nil, fmt.Errorf("read outbox directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && isDocumentFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isDocumentFile(name string) bool {
	return strings.HasSuffix(name, DocumentExt) && !strings.HasPrefix(name, ".")
}

type outcome int

const (
	outcomeDeferred outcome = iota
	outcomeSubmitted
	outcomeFailed
)

func (o *Outbox) processDocument(ctx context.Context, name string) outcome {
	logger := o.logger.With(log.String("document", name))
	base := strings.TrimSuffix(name, DocumentExt)

	if _, err := os.Stat(filepath.Join(o.dir, base+ResponseExt)); err == nil {
		// Submitted by a previous pass that failed to move it.
		if err = o.finishSubmitted(logger, name, base); err != nil {
			return outcomeDeferred
		}
		return outcomeSubmitted
	}

	doc, err := LoadDocument(filepath.Join(o.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return outcomeDeferred
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return o.fail(logger, name, base, err)
		}
		logger.Error("failed to read document", log.Error(err))
		return outcomeDeferred
	}

	signature, err := o.readSignature(base)
	if err != nil {
		logger.Error("failed to read document signature", log.Error(err))
		return outcomeDeferred
	}

	result, err := o.submitter.Submit(ctx, doc, signature)
	switch {
	case err == nil:
	case errors.Is(err, crpt.ErrInvalidDocument), errors.Is(err, crpt.ErrRemoteRejection):
		return o.fail(logger, name, base, err)
	default:
		logger.Warn("document submission deferred", log.Error(err))
		return outcomeDeferred
	}

	// The response is written next to the document first, it marks the document as submitted
	// until the move succeeds.
	if err = os.WriteFile(filepath.Join(o.dir, base+ResponseExt), result.Body, 0o600); err != nil {
		logger.Error("failed to save response", log.Error(err))
	}
	_ = o.finishSubmitted(logger, name, base)
	return outcomeSubmitted
}

func (o *Outbox) finishSubmitted(logger log.FieldLogger, name, base string) error {
	err := o.moveDocument(name, base, SubmittedDir, SignatureExt, ResponseExt)
	if err != nil {
		logger.Error("failed to move submitted document", log.Error(err))
	}
	return err
}

func (o *Outbox) fail(logger log.FieldLogger, name, base string, cause error) outcome {
	logger.Warn("document moved to failed", log.Error(cause))
	if err := o.moveDocument(name, base, FailedDir, SignatureExt); err != nil {
		logger.Error("failed to move document", log.Error(err))
		return outcomeFailed
	}
	errPath := filepath.Join(o.dir, FailedDir, base+ErrorExt)
	if err := os.WriteFile(errPath, []byte(cause.Error()+"\n"), 0o600); err != nil {
		logger.Error("failed to save error", log.Error(err))
	}
	return outcomeFailed
}

func (o *Outbox) readSignature(base string) (string, error) {
	data, err := os.ReadFile(filepath.Join(o.dir, base+SignatureExt))
	if errors.Is(err, os.ErrNotExist) {
		return o.signature, nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// moveDocument moves the document and then its existing companion files (by extension) into the subdirectory.
// The document leaves the outbox directory first, so a leftover companion never causes a resubmission.
func (o *Outbox) moveDocument(name, base, sub string, companionExts ...string) error {
	if err := os.Rename(filepath.Join(o.dir, name), filepath.Join(o.dir, sub, name)); err != nil {
		return err
	}
	for _, ext := range companionExts {
		companion := base + ext
		err := os.Rename(filepath.Join(o.dir, companion), filepath.Join(o.dir, sub, companion))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LoadDocument reads and decodes a document from the JSON file.
func LoadDocument(path string) (*crpt.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc crpt.Document
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}
