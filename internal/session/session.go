// Package session caches MFA-backed AWS session credentials between runs.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const (
	expirationLayout = "2006-01-02T15:04:05"
	// Duration is how long a session token obtained with an MFA code lasts.
	Duration = 10 * time.Hour
)

// Credentials are temporary AWS credentials.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

type cachedSession struct {
	AccessKeyID     string `json:"aws_access_key_id"`
	SecretAccessKey string `json:"aws_secret_access_key"`
	SessionToken    string `json:"aws_session_token"`
	Expiration      string `json:"aws_session_expiration"`
}

// Load reads cached credentials from path. It returns nil when there is no
// cache or it has expired at now.
func Load(path string, now time.Time) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var cached cachedSession
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", path, err)
	}
	expiration, err := time.Parse(expirationLayout, cached.Expiration)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", path, err)
	}
	if !expiration.After(now) {
		return nil, nil
	}
	return &Credentials{
		AccessKeyID:     cached.AccessKeyID,
		SecretAccessKey: cached.SecretAccessKey,
		SessionToken:    cached.SessionToken,
		Expiration:      expiration,
	}, nil
}

// Save writes creds to path, readable by the owner only.
func Save(path string, creds Credentials) error {
	data, err := json.Marshal(cachedSession{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Expiration:      creds.Expiration.UTC().Format(expirationLayout),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Chmod(path, 0o600)
}

type stsAPI interface {
	GetSessionToken(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error)
}

// Guard makes sure an MFA session is available before commands talk to AWS.
type Guard struct {
	Path   string
	Device string
	// Prompt asks the operator for the current MFA code.
	Prompt func() (string, error)
	Clock  func() time.Time

	sts stsAPI
	log zerolog.Logger
}

// NewGuard returns a Guard that refreshes sessions through STS using the
// long-lived credentials in cfg.
func NewGuard(cfg aws.Config, path, device string, log zerolog.Logger) *Guard {
	return newGuard(sts.NewFromConfig(cfg), path, device, log)
}

func newGuard(client stsAPI, path, device string, log zerolog.Logger) *Guard {
	return &Guard{
		Path:   path,
		Device: device,
		Prompt: func() (string, error) { return PromptCode(os.Stdin, os.Stderr) },
		Clock:  time.Now,
		sts:    client,
		log:    log.With().Str("component", "session").Logger(),
	}
}

// Ensure returns the cached session when it is still valid. Otherwise, when
// an MFA device is configured, it asks for a code, requests a new session
// token and caches it. It returns nil when no session is needed.
func (g *Guard) Ensure(ctx context.Context) (*Credentials, error) {
	now := g.Clock().UTC()

	creds, err := Load(g.Path, now)
	if err != nil {
		g.log.Error().Err(err).Msg("cannot load session")
	}
	if creds != nil {
		return creds, nil
	}
	if g.Device == "" {
		return nil, nil
	}

	code, err := g.Prompt()
	if err != nil {
		return nil, fmt.Errorf("read MFA code: %w", err)
	}
	out, err := g.sts.GetSessionToken(ctx, &sts.GetSessionTokenInput{
		DurationSeconds: aws.Int32(int32(Duration / time.Second)),
		SerialNumber:    aws.String(g.Device),
		TokenCode:       aws.String(code),
	})
	if err != nil {
		return nil, fmt.Errorf("get session token: %w", err)
	}
	if out.Credentials == nil {
		return nil, errors.New("get session token: no credentials returned")
	}

	creds = &Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiration:      aws.ToTime(out.Credentials.Expiration),
	}
	if err := Save(g.Path, *creds); err != nil {
		g.log.Warn().Err(err).Str("path", g.Path).Msg("cannot cache session")
	}
	g.log.Debug().Time("expiration", creds.Expiration).Msg("started MFA session")
	return creds, nil
}

// PromptCode asks for an MFA code on out and reads it from in without echo
// when in is a terminal.
func PromptCode(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "MFA Token Code: ")
	if term.IsTerminal(int(in.Fd())) {
		code, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		return strings.TrimSpace(string(code)), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// LoadAWSConfig loads the shared AWS configuration for profile. Session
// credentials, when present, take precedence over the profile's.
func LoadAWSConfig(ctx context.Context, profile, region string, creds *Credentials) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" && profile != "default" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if creds != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return cfg, nil
}
