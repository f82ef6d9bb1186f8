package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scottrax/ai-agent-system/internal/domain"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultOutputLimit = 50000
)

// Executor runs catalogue actions. Its host privilege is whatever was handed
// to it at construction (working dir, environment); there is no package-level
// ambient state.
type Executor struct {
	workDir     string
	env         []string
	timeout     time.Duration
	outputLimit int
	logger      *slog.Logger
}

// Option configures the executor.
type Option func(*Executor)

// WithWorkDir sets the working directory for shell commands.
func WithWorkDir(dir string) Option {
	return func(e *Executor) { e.workDir = dir }
}

// WithEnv sets the environment passed to shell commands.
func WithEnv(env []string) Option {
	return func(e *Executor) { e.env = env }
}

// WithTimeout bounds each shell command.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithOutputLimit caps captured output bytes per stream.
func WithOutputLimit(n int) Option {
	return func(e *Executor) { e.outputLimit = n }
}

// NewExecutor creates an executor with the host capability it is given.
func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		env:         os.Environ(),
		timeout:     defaultTimeout,
		outputLimit: defaultOutputLimit,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one catalogue action synchronously. An unknown name fails with
// ErrUnknownTool and missing or mistyped required fields fail with
// ErrInvalidInput, both before anything executes. A host action that ran
// returns its output even on non-zero exit; an action that could not be
// attempted reports the failure inside the outcome.
func (e *Executor) Execute(ctx context.Context, call domain.ToolCall) (domain.ToolOutcome, error) {
	switch Kind(call.Name) {
	case KindRunBash:
		command, err := requireString(call.Input, "command")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		return e.runBash(ctx, command), nil

	case KindReadFile:
		path, err := requireString(call.Input, "path")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		return e.readFile(path), nil

	case KindWriteFile:
		path, err := requireString(call.Input, "path")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		content, err := requireString(call.Input, "content")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		return e.writeFile(path, content), nil

	case KindListDirectory:
		path, err := requireString(call.Input, "path")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		return e.listDirectory(path), nil

	case KindSearchFiles:
		path, err := requireString(call.Input, "path")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		pattern, err := requireString(call.Input, "pattern")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		searchType, err := requireString(call.Input, "search_type")
		if err != nil {
			return domain.ToolOutcome{}, err
		}
		if searchType != "filename" && searchType != "content" {
			return domain.ToolOutcome{}, fmt.Errorf("search_type must be 'filename' or 'content': %w", domain.ErrInvalidInput)
		}
		return e.searchFiles(path, pattern, searchType), nil
	}

	return domain.ToolOutcome{}, fmt.Errorf("tool %q: %w", call.Name, domain.ErrUnknownTool)
}

func requireString(input map[string]any, field string) (string, error) {
	v, ok := input[field]
	if !ok {
		return "", fmt.Errorf("missing required field %q: %w", field, domain.ErrInvalidInput)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %q must be a non-empty string: %w", field, domain.ErrInvalidInput)
	}
	return s, nil
}

func (e *Executor) runBash(ctx context.Context, command string) domain.ToolOutcome {
	e.logger.Info("executing command", slog.String("command", command))

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = e.workDir
	cmd.Env = e.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	outcome := domain.ToolOutcome{
		Stdout: e.truncate(stdout.String()),
		Stderr: e.truncate(stderr.String()),
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		outcome.ExitCode = -1
		outcome.Error = fmt.Sprintf("command timed out after %s", e.timeout)
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			// Non-zero exit is data for the reasoning service, not a failure.
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.ExitCode = -1
			outcome.Error = err.Error()
		}
	}
	return outcome
}

func (e *Executor) readFile(path string) domain.ToolOutcome {
	e.logger.Info("reading file", slog.String("path", path))

	content, err := os.ReadFile(path)
	if err != nil {
		return domain.ToolOutcome{ExitCode: 1, Error: err.Error()}
	}
	return domain.ToolOutcome{Stdout: e.truncate(string(content))}
}

func (e *Executor) writeFile(path, content string) domain.ToolOutcome {
	e.logger.Info("writing file", slog.String("path", path), slog.Int("bytes", len(content)))

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.ToolOutcome{ExitCode: 1, Error: err.Error()}
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return domain.ToolOutcome{ExitCode: 1, Error: err.Error()}
	}
	return domain.ToolOutcome{Stdout: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

func (e *Executor) listDirectory(path string) domain.ToolOutcome {
	e.logger.Info("listing directory", slog.String("path", path))

	entries, err := os.ReadDir(path)
	if err != nil {
		return domain.ToolOutcome{ExitCode: 1, Error: err.Error()}
	}

	var b strings.Builder
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s %10d %s %s\n",
			fi.Mode().String(),
			fi.Size(),
			fi.ModTime().Format("2006-01-02 15:04"),
			entry.Name(),
		)
	}
	return domain.ToolOutcome{Stdout: e.truncate(b.String())}
}

func (e *Executor) searchFiles(root, pattern, searchType string) domain.ToolOutcome {
	e.logger.Info("searching files",
		slog.String("path", root),
		slog.String("pattern", pattern),
		slog.String("type", searchType),
	)

	var b strings.Builder
	lowered := strings.ToLower(pattern)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if b.Len() > e.outputLimit {
			return filepath.SkipAll
		}
		if searchType == "filename" {
			if !d.IsDir() && strings.Contains(strings.ToLower(d.Name()), lowered) {
				b.WriteString(path)
				b.WriteString("\n")
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil // skip unreadable and binary files
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), lowered) {
				fmt.Fprintf(&b, "%s:%d:%s\n", path, i+1, strings.TrimSpace(line))
			}
		}
		return nil
	})
	if err != nil {
		return domain.ToolOutcome{ExitCode: 1, Error: err.Error()}
	}
	return domain.ToolOutcome{Stdout: e.truncate(b.String())}
}

// truncate caps output at the byte limit, backing up to a rune boundary so
// the cut never leaves invalid UTF-8 in the transcript.
func (e *Executor) truncate(s string) string {
	if len(s) <= e.outputLimit {
		return s
	}
	cut := e.outputLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n...[truncated]"
}
