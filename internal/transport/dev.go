package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DevLogLogger = "logger"
	DevLogFile   = "file"
	DevLogBoth   = "both"
)

// DevTransport replaces SMTP in development: it logs the message, writes it as an
// .eml file, or both.
type DevTransport struct {
	method string
	dirs   []string
	from   string
	log    *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	dir string
}

// CandidateDirs is the fallback chain for .eml output, most preferred first.
func CandidateDirs(configured string) []string {
	dirs := make([]string, 0, 3)
	if configured = strings.TrimSpace(configured); configured != "" {
		dirs = append(dirs, configured)
	}
	return append(dirs,
		filepath.Join("tmp", "emails"),
		filepath.Join(os.TempDir(), "mail-outbox"),
	)
}

func NewDevTransport(method string, dirs []string, from string, log *zap.Logger) *DevTransport {
	switch method {
	case DevLogFile, DevLogBoth:
	default:
		method = DevLogLogger
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DevTransport{method: method, dirs: dirs, from: from, log: log, now: time.Now}
}

func (t *DevTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.From == "" {
		msg.From = t.from
	}
	id := uuid.NewString() + "@mail-outbox.dev"
	messageID := "<" + id + ">"

	logIt := t.method == DevLogLogger || t.method == DevLogBoth
	if t.method == DevLogFile || t.method == DevLogBoth {
		path, err := t.writeFile(msg, id)
		switch {
		case err != nil:
			return "", err
		case path == "":
			t.log.Warn("no writable directory for .eml output, logging instead",
				zap.String("action", "email.dev_delivery"), zap.Strings("candidates", t.dirs))
			logIt = true
		default:
			t.log.Info("dev email written",
				zap.String("action", "email.dev_delivery"),
				zap.String("outbox_id", msg.ID),
				zap.String("path", path))
		}
	}

	if logIt {
		t.log.Info("dev email",
			zap.String("action", "email.dev_delivery"),
			zap.String("outbox_id", msg.ID),
			zap.String("message_id", messageID),
			zap.String("from", msg.From),
			zap.Strings("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.String("text", msg.Text),
			zap.Int("attachments", len(msg.Attachments)))
	}
	return messageID, nil
}

func (t *DevTransport) writeFile(msg Message, messageID string) (string, error) {
	dir := t.resolveDir()
	if dir == "" {
		return "", nil
	}
	now := t.now()
	raw, err := ComposeEML(msg, messageID, now)
	if err != nil {
		return "", fmt.Errorf("compose eml: %w", err)
	}
	id := msg.ID
	if id == "" {
		id = "message"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.eml", now.UTC().Format("20060102T150405.000"), id))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write eml: %w", err)
	}
	return path, nil
}

// resolveDir returns the first candidate that can be created and written to.
func (t *DevTransport) resolveDir() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dir != "" {
		return t.dir
	}
	for _, d := range t.dirs {
		if writable(d) {
			t.dir = d
			return d
		}
	}
	return ""
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
