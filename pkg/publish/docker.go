package publish

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Client is the subset of the docker CLI the publisher needs. It's an
// interface so tests can substitute a fake engine.
type Client interface {
	Build(ctx context.Context, contextDir string, tags []string) error
	Login(ctx context.Context, registry, username, password string) error
	Push(ctx context.Context, ref string) error
}

// CLI drives the docker command-line tool. The daemon does the actual
// work; we just shell out, the same way the deploy used to.
type CLI struct {
	exe    string
	logger log.Logger
}

func NewCLI(logger log.Logger) *CLI {
	return &CLI{exe: "docker", logger: logger}
}

func (c *CLI) Build(ctx context.Context, contextDir string, tags []string) error {
	args := []string{"build"}
	for _, tag := range tags {
		args = append(args, "-t", tag)
	}
	args = append(args, contextDir)
	return c.doCommand(ctx, nil, args...)
}

func (c *CLI) Login(ctx context.Context, registry, username, password string) error {
	// The password goes via stdin so it never appears in the process
	// table or the log.
	return c.doCommand(ctx, strings.NewReader(password),
		"login", "--username", username, "--password-stdin", registry)
}

func (c *CLI) Push(ctx context.Context, ref string) error {
	return c.doCommand(ctx, nil, "push", ref)
}

func (c *CLI) doCommand(ctx context.Context, stdin io.Reader, args ...string) error {
	begin := time.Now()
	cmd := exec.CommandContext(ctx, c.exe, args...)
	cmd.Stdin = stdin
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		err = errors.Errorf("running %s %s: %s", c.exe, args[0], strings.TrimSpace(stderr.String()))
	}
	c.logger.Log("cmd", c.exe+" "+args[0], "took", time.Since(begin), "err", err)
	return err
}

// SourceRevision asks git for the revision of the tree at dir, for
// use as an image tag. It is fine for this to fail (not every build
// context is a git checkout); the caller falls back to other tag
// derivations.
func SourceRevision(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--short=12", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(err, "resolving source revision")
	}
	return strings.TrimSpace(string(out)), nil
}
