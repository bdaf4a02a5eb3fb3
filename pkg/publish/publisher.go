package publish

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/resumelab/shipper/pkg/image"
	"github.com/resumelab/shipper/pkg/registry"
)

const defaultRetries = 3

// Authenticator yields short-lived registry credentials.
type Authenticator interface {
	Authenticate(ctx context.Context) (registry.Credentials, error)
}

// Publisher builds a service's image from its build context and
// pushes it, under a derived versioned tag and under `latest`, to the
// repository provisioning gave the service.
type Publisher struct {
	Docker Client
	Auth   Authenticator
	Logger log.Logger

	// Revision, if set, becomes the versioned tag for every image
	// this publisher builds. When empty, the tag is derived from the
	// build context contents, falling back to a timestamp.
	Revision string

	// Retries bounds how many times a push is reattempted after a
	// transient failure; zero means the default of 3.
	Retries int

	Clock clockwork.Clock
}

func (p *Publisher) clock() clockwork.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clockwork.NewRealClock()
}

func (p *Publisher) retries() int {
	if p.Retries > 0 {
		return p.Retries
	}
	return defaultRetries
}

// Publish builds and pushes the image for one service, returning the
// versioned reference that was pushed. The `latest` tag is pushed as
// well, so a forced deployment picks the new build up.
func (p *Publisher) Publish(ctx context.Context, service, contextDir, repository string) (image.Ref, error) {
	base, err := image.ParseRef(repository)
	if err != nil {
		return image.Ref{}, &Error{Kind: ErrBuild, Service: service, Err: err}
	}

	versioned := base.WithTag(p.versionTag(contextDir))
	latest := base.WithTag(image.TagLatest)
	logger := log.With(p.Logger, "service", service, "image", versioned.String())

	if err := p.Docker.Build(ctx, contextDir, []string{versioned.String(), latest.String()}); err != nil {
		return image.Ref{}, &Error{Kind: ErrBuild, Service: service, Err: err}
	}

	creds, err := p.Auth.Authenticate(ctx)
	if err != nil {
		return image.Ref{}, &Error{Kind: ErrAuth, Service: service, Err: err}
	}
	if err := p.Docker.Login(ctx, creds.Registry, creds.Username, creds.Password); err != nil {
		return image.Ref{}, &Error{Kind: ErrAuth, Service: service, Err: err}
	}

	for _, ref := range []image.Ref{versioned, latest} {
		if err := p.push(ctx, service, ref); err != nil {
			return image.Ref{}, err
		}
	}
	logger.Log("pushed", "true")
	return versioned, nil
}

// push attempts one tag, retrying transient failures with exponential
// backoff. Authorisation failures surface immediately: credentials
// don't become valid by asking again.
func (p *Publisher) push(ctx context.Context, service string, ref image.Ref) error {
	b := &backoff{initial: initialBackoff, max: maxBackoff}
	var lastErr error
	for attempt := 0; attempt <= p.retries(); attempt++ {
		if wait := b.Wait(); wait > 0 {
			select {
			case <-p.clock().After(wait):
			case <-ctx.Done():
				return &Error{Kind: ErrNetwork, Service: service, Err: ctx.Err()}
			}
		}

		lastErr = p.Docker.Push(ctx, ref.String())
		if lastErr == nil {
			return nil
		}
		if kind := pushErrorKind(lastErr); kind == ErrAuth {
			return &Error{Kind: ErrAuth, Service: service, Err: lastErr}
		}
		p.Logger.Log("service", service, "image", ref.String(), "attempt", attempt+1, "err", lastErr)
		b.Failure()
	}
	return &Error{Kind: ErrNetwork, Service: service, Err: errors.Wrapf(lastErr, "push did not succeed after %d retries", p.retries())}
}

// versionTag picks the versioned tag for a build: the configured
// source revision when there is one, the content digest of the build
// context otherwise, and a high-resolution timestamp as a last
// resort.
func (p *Publisher) versionTag(contextDir string) string {
	if p.Revision != "" {
		return image.RevisionTag(p.Revision)
	}
	if tag, err := image.ContextTag(contextDir); err == nil {
		return tag
	}
	return image.TimestampTag(p.clock().Now())
}
