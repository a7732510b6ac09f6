package logrecorder

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NowString 返回当前时间格式为 "20060102_1504" 的字符串
func NowString(t time.Time) string {
	return t.Format("20060102_1504")
}

// MakeDir 在 base 下创建以日期命名的目录（如：2025_04_25）
func MakeDir(base string, now time.Time) (string, error) {
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	fullPath := filepath.Join(base, dirName)
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	return fullPath, nil
}

// Options controls the file logger.
type Options struct {
	Level slog.Level

	// Rotate starts a new file once the current one is older than this.
	// Zero keeps a single file.
	Rotate time.Duration

	// Now replaces time.Now for file names and rotation.
	Now func() time.Time
}

// recorder is an io.WriteCloser writing to <base>/<date>/<prefix><time>.log,
// rotating on the first write after Options.Rotate elapsed.
type recorder struct {
	mu     sync.Mutex
	base   string
	prefix string
	rotate time.Duration
	now    func() time.Time

	f      *os.File
	opened time.Time
}

func (r *recorder) open() error {
	now := r.now()
	dir, err := MakeDir(r.base, now)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, r.prefix+NowString(now)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if r.f != nil {
		_ = r.f.Close()
	}
	r.f = f
	r.opened = now
	return nil
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.rotate > 0 && r.now().Sub(r.opened) >= r.rotate {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	return r.f.Write(p)
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Path returns the file currently written.
func (r *recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return ""
	}
	return r.f.Name()
}

// Recorder is the file behind a logger returned by New.
type Recorder interface {
	io.Closer
	Path() string
}

// New returns a text slog.Logger writing below base in a dated directory,
// file names starting with prefix.
func New(base, prefix string, opts Options) (*slog.Logger, Recorder, error) {
	r := &recorder{base: base, prefix: prefix, rotate: opts.Rotate, now: opts.Now}
	if r.now == nil {
		r.now = time.Now
	}
	if err := r.open(); err != nil {
		return nil, nil, err
	}
	h := slog.NewTextHandler(r, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(h), r, nil
}
