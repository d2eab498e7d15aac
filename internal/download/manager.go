// Package download runs file downloads handed off by render surfaces and
// keeps their records and events up to date.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/nabd-browser/nabd/internal/records"
)

// Topic carries JSON-encoded Events.
const Topic = "downloads.events"

const sniffSize = 3072

var (
	// ErrUnknownJob is returned for job ids the manager never issued.
	ErrUnknownJob = errors.New("download: unknown job")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("download: manager closed")
)

// Recorder is the part of the record store the manager writes to.
type Recorder interface {
	InsertDownload(ctx context.Context, d *records.Download) error
	SetDownloadTarget(ctx context.Context, id, fileName, mime string, total int64) error
	UpdateDownloadProgress(ctx context.Context, id string, done, total int64) error
	UpdateDownloadStatus(ctx context.Context, id string, st records.Status) error
	MarkDownloadCompleted(ctx context.Context, id, path string) error
	MarkDownloadFailed(ctx context.Context, id, reason string) error
}

// Event reports a job's state.
type Event struct {
	JobID      string         `json:"job_id"`
	URL        string         `json:"url"`
	FileName   string         `json:"file_name"`
	Path       string         `json:"path,omitempty"`
	Mime       string         `json:"mime,omitempty"`
	Status     records.Status `json:"status"`
	BytesDone  int64          `json:"bytes_done"`
	BytesTotal int64          `json:"bytes_total"`
	Error      string         `json:"error,omitempty"`
}

// Config configures the manager.
type Config struct {
	Dir       string
	UserAgent string
	// RetryMax of zero means 3; negative disables retries.
	RetryMax int
	// ProgressInterval throttles progress records and events.
	ProgressInterval time.Duration
}

type job struct {
	mu     sync.Mutex
	event  Event
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) snapshot() Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.event
}

// Manager runs downloads concurrently. Each job moves PENDING ->
// DOWNLOADING -> COMPLETED, FAILED or CANCELLED.
type Manager struct {
	cfg    Config
	client *retryablehttp.Client
	rec    Recorder
	pubsub *gochannel.GoChannel
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	jobs       map[string]*job
	closed     bool
	onComplete []func(Event)
}

// NewManager creates a manager writing files under cfg.Dir.
func NewManager(cfg Config, rec Recorder, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case cfg.RetryMax == 0:
		cfg.RetryMax = 3
	case cfg.RetryMax < 0:
		cfg.RetryMax = 0
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 250 * time.Millisecond
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.Logger = leveledLogger{logger.Sugar()}
	// Hand back the last response so status codes reach the user.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		client: client,
		rec:    rec,
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{}),
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// OnComplete registers fn to run when any job reaches a terminal state.
func (m *Manager) OnComplete(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = append(m.onComplete, fn)
}

// Events subscribes to the raw event topic. Receivers must Ack every message.
func (m *Manager) Events(ctx context.Context) (<-chan *message.Message, error) {
	return m.pubsub.Subscribe(ctx, Topic)
}

// Subscribe decodes events for fn until ctx is done.
func (m *Manager) Subscribe(ctx context.Context, fn func(Event)) error {
	messages, err := m.Events(ctx)
	if err != nil {
		return err
	}
	go func() {
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				m.log.Warn("bad download event", zap.Error(err))
				msg.Ack()
				continue
			}
			fn(ev)
			msg.Ack()
		}
	}()
	return nil
}

// Submit records a PENDING download of rawURL and starts it. mimeHint may
// be empty.
func (m *Manager) Submit(ctx context.Context, rawURL, mimeHint string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("download %q: unsupported address", rawURL)
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	d := &records.Download{
		URL:        rawURL,
		FileName:   GuessFileName(rawURL, "", mimeHint),
		Mime:       mimeHint,
		BytesTotal: -1,
		Status:     records.StatusPending,
	}
	if err := m.rec.InsertDownload(ctx, d); err != nil {
		return "", fmt.Errorf("record download: %w", err)
	}

	jobCtx, cancel := context.WithCancel(m.ctx)
	j := &job{
		event: Event{
			JobID:      d.ID,
			URL:        rawURL,
			FileName:   d.FileName,
			Mime:       mimeHint,
			Status:     records.StatusPending,
			BytesTotal: -1,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	m.jobs[d.ID] = j
	m.wg.Add(1)
	m.mu.Unlock()

	m.publish(j.snapshot())
	m.log.Info("download submitted", zap.String("download_id", d.ID), zap.String("url", rawURL))

	go func() {
		defer m.wg.Done()
		m.run(jobCtx, j)
	}()
	return d.ID, nil
}

// Cancel stops a running job. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	j.cancel()
	return nil
}

// Wait blocks until the job finishes and returns its final event.
func (m *Manager) Wait(ctx context.Context, id string) (Event, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Event{}, ErrUnknownJob
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Status returns the latest event of a job.
func (m *Manager) Status(id string) (Event, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Event{}, ErrUnknownJob
	}
	return j.snapshot(), nil
}

// Close cancels running jobs, waits for them and closes the event bus.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return m.pubsub.Close()
}

func (m *Manager) run(ctx context.Context, j *job) {
	defer close(j.done)
	defer j.cancel()
	id := j.snapshot().JobID
	log := m.log.With(zap.String("download_id", id))

	path, err := m.transfer(ctx, j)
	// Records are written even when ctx was cancelled.
	recCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		j.mu.Lock()
		j.event.Status = records.StatusCompleted
		j.event.Path = path
		j.mu.Unlock()
		if rerr := m.rec.MarkDownloadCompleted(recCtx, id, path); rerr != nil {
			log.Warn("record completion", zap.Error(rerr))
		}
		log.Info("download completed", zap.String("path", path))
	case ctx.Err() != nil:
		j.mu.Lock()
		j.event.Status = records.StatusCancelled
		j.mu.Unlock()
		if rerr := m.rec.UpdateDownloadStatus(recCtx, id, records.StatusCancelled); rerr != nil {
			log.Warn("record cancellation", zap.Error(rerr))
		}
		log.Info("download cancelled")
	default:
		reason := failureReason(err)
		j.mu.Lock()
		j.event.Status = records.StatusFailed
		j.event.Error = reason
		j.mu.Unlock()
		if rerr := m.rec.MarkDownloadFailed(recCtx, id, reason); rerr != nil {
			log.Warn("record failure", zap.Error(rerr))
		}
		log.Warn("download failed", zap.Error(err))
	}

	final := j.snapshot()
	m.publish(final)

	m.mu.Lock()
	hooks := append([]func(Event){}, m.onComplete...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(final)
	}
}

// transfer fetches the job URL into a new file and returns its path. A
// cancelled or failed transfer leaves no partial file.
func (m *Manager) transfer(ctx context.Context, j *job) (string, error) {
	ev := j.snapshot()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, ev.URL, nil)
	if err != nil {
		return "", err
	}
	if m.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", m.cfg.UserAgent)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", &networkError{err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &httpError{resp.StatusCode}
	}

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", &networkError{err}
	}
	head = head[:n]

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		if ev.Mime != "" {
			mimeType = ev.Mime
		} else {
			mimeType = mimetype.Detect(head).String()
		}
	}
	name := GuessFileName(ev.URL, resp.Header.Get("Content-Disposition"), mimeType)
	total := resp.ContentLength
	if total < 0 {
		total = -1
	}

	f, path, err := createUnique(m.cfg.Dir, name)
	if err != nil {
		return "", &fileError{err}
	}
	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(path)
		}
	}()

	j.mu.Lock()
	j.event.FileName = name
	j.event.Mime = baseType(mimeType)
	j.event.BytesTotal = total
	j.event.Status = records.StatusDownloading
	j.mu.Unlock()
	if err := m.rec.SetDownloadTarget(ctx, ev.JobID, name, baseType(mimeType), total); err != nil {
		m.log.Warn("record download target", zap.String("download_id", ev.JobID), zap.Error(err))
	}
	m.progress(ctx, j, 0)

	if _, err := f.Write(head); err != nil {
		return "", &fileError{err}
	}
	done := int64(len(head))

	buf := make([]byte, 32*1024)
	last := time.Now()
	for {
		nr, rerr := resp.Body.Read(buf)
		if nr > 0 {
			if _, werr := f.Write(buf[:nr]); werr != nil {
				return "", &fileError{werr}
			}
			done += int64(nr)
			if time.Since(last) >= m.cfg.ProgressInterval {
				m.progress(ctx, j, done)
				last = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &networkError{rerr}
		}
	}
	if err := f.Close(); err != nil {
		return "", &fileError{err}
	}
	success = true
	m.progress(ctx, j, done)
	return path, nil
}

func (m *Manager) progress(ctx context.Context, j *job, done int64) {
	j.mu.Lock()
	j.event.BytesDone = done
	if j.event.BytesTotal < done && j.event.BytesTotal >= 0 {
		j.event.BytesTotal = done
	}
	ev := j.event
	j.mu.Unlock()

	if err := m.rec.UpdateDownloadProgress(context.WithoutCancel(ctx), ev.JobID, ev.BytesDone, ev.BytesTotal); err != nil {
		m.log.Debug("record progress", zap.String("download_id", ev.JobID), zap.Error(err))
	}
	m.publish(ev)
}

func (m *Manager) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := m.pubsub.Publish(Topic, msg); err != nil {
		m.log.Debug("publish download event", zap.Error(err))
	}
}

type networkError struct{ err error }

func (e *networkError) Error() string { return "network: " + e.err.Error() }
func (e *networkError) Unwrap() error { return e.err }

type httpError struct{ status int }

func (e *httpError) Error() string { return fmt.Sprintf("HTTP %d", e.status) }

type fileError struct{ err error }

func (e *fileError) Error() string { return "file: " + e.err.Error() }
func (e *fileError) Unwrap() error { return e.err }

// failureReason turns a transfer error into the message shown to the user.
func failureReason(err error) string {
	var (
		netErr  *networkError
		httpErr *httpError
		fileErr *fileError
	)
	switch {
	case errors.As(err, &httpErr):
		switch {
		case httpErr.status == http.StatusNotFound:
			return "File not found (HTTP 404)"
		case httpErr.status == http.StatusRequestedRangeNotSatisfiable:
			return "Cannot resume download"
		case httpErr.status >= 500:
			return fmt.Sprintf("Server error (HTTP %d)", httpErr.status)
		default:
			return fmt.Sprintf("HTTP error %d", httpErr.status)
		}
	case errors.As(err, &fileErr):
		if errors.Is(fileErr.err, os.ErrPermission) {
			return "Cannot write to download directory"
		}
		return "File error: " + fileErr.err.Error()
	case errors.As(err, &netErr):
		return "Network error"
	}
	return "Unknown error"
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct{ s *zap.SugaredLogger }

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
