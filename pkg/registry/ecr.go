package registry

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecr/ecriface"
	"github.com/pkg/errors"
)

// Credentials are what `docker login` wants: a username and password
// for a particular registry host. For ECR the username is always
// "AWS" and the password is the decoded authorization token, valid
// for twelve hours according to AWS docs (the response carries the
// actual expiry).
type Credentials struct {
	Registry  string
	Username  string
	Password  string
	ExpiresAt time.Time
}

// ECRAuthenticator obtains short-lived docker credentials for ECR
// registries from the AWS API.
type ECRAuthenticator struct {
	ECR ecriface.ECRAPI
}

// Authenticate fetches a token for the default registry of the
// account the client is configured for. A failure here is an auth
// failure as far as the caller is concerned: tokens don't start
// working by asking again.
func (a *ECRAuthenticator) Authenticate(ctx context.Context) (Credentials, error) {
	out, err := a.ECR.GetAuthorizationTokenWithContext(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credentials{}, errors.Wrap(err, "obtaining ECR authorization token")
	}
	if len(out.AuthorizationData) == 0 {
		return Credentials{}, errors.New("ECR returned no authorization data")
	}
	data := out.AuthorizationData[0]
	return decodeAuthorizationData(data)
}

func decodeAuthorizationData(data *ecr.AuthorizationData) (Credentials, error) {
	if data.AuthorizationToken == nil || data.ProxyEndpoint == nil {
		return Credentials{}, errors.New("incomplete ECR authorization data")
	}
	raw, err := base64.StdEncoding.DecodeString(*data.AuthorizationToken)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "decoding ECR authorization token")
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Credentials{}, errors.New("ECR authorization token is not of the form user:password")
	}

	creds := Credentials{
		// Remove the https prefix; docker login wants the bare host.
		Registry: strings.TrimPrefix(*data.ProxyEndpoint, "https://"),
		Username: parts[0],
		Password: parts[1],
	}
	if data.ExpiresAt != nil {
		creds.ExpiresAt = *data.ExpiresAt
	}
	return creds, nil
}
