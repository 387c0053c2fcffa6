package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/onexay/catapult/internal/storage"
)

// FileName is the per-repository configuration file, looked up at the git root.
const FileName = ".catapult.yaml"

// StorageBackend enumerates supported persistence layers.
type StorageBackend string

const (
	// StorageBackendS3 stores ledgers in versioned S3 buckets.
	StorageBackendS3 StorageBackend = "s3"
	// StorageBackendGCS stores ledgers in versioned Cloud Storage buckets.
	StorageBackendGCS StorageBackend = "gcs"
	// StorageBackendKeyDB persists data to KeyDB/Redis.
	StorageBackendKeyDB StorageBackend = "keydb"
	// StorageBackendBolt persists data to a local bbolt file.
	StorageBackendBolt StorageBackend = "bolt"
	// StorageBackendMemory keeps data in-process.
	StorageBackendMemory StorageBackend = "memory"
)

// UnknownEnvironmentError is returned for a deploy environment missing from the config file.
type UnknownEnvironmentError struct {
	Env   string
	Known []string
}

func (e *UnknownEnvironmentError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown environment %q: no deploy environments configured", e.Env)
	}
	return fmt.Sprintf("unknown environment %q (configured: %s)", e.Env, strings.Join(e.Known, ", "))
}

// Config aggregates runtime configuration.
type Config struct {
	AWS     AWSConfig
	GitRepo string
	// SessionPath is where the MFA session credentials are cached.
	SessionPath string
	// Format forces the output format; empty means auto-detect.
	Format  string
	Region  string
	Storage StorageConfig
	Tokens  TokenConfig

	Release      ReleaseConfig
	Deploy       map[string]DeployConfig
	Git          ProviderConfig
	IssueTracker ProviderConfig
	Projects     map[string]ProjectConfig
}

// AWSConfig selects the shared-config profile and the MFA device.
type AWSConfig struct {
	Profile   string
	MFADevice string
}

// StorageConfig contains backend selection and nested settings.
type StorageConfig struct {
	Backend  StorageBackend
	KeyDB    storage.Config
	GCS      storage.GCSConfig
	BoltPath string
}

// TokenConfig carries API tokens for the issue trackers and the git host.
type TokenConfig struct {
	GitHub    string
	Shortcut  string
	Clubhouse string
}

// ReleaseConfig locates the release ledger and the images it points to.
type ReleaseConfig struct {
	Bucket            string `yaml:"bucket" validate:"required"`
	DockerRepository  string `yaml:"docker_repository"`
	DockerImagePrefix string `yaml:"docker_image_prefix"`
}

// DeployConfig locates one environment's deploy ledger.
type DeployConfig struct {
	Bucket string `yaml:"bucket" validate:"required"`
}

// ProviderConfig names an integration implementation.
type ProviderConfig struct {
	Provider string `yaml:"provider"`
}

// ProjectConfig holds optional per-project settings.
type ProjectConfig struct {
	// Paths limit a project's changelog to commits touching them.
	Paths     []string `yaml:"paths"`
	ImageName string   `yaml:"image_name"`
}

// file mirrors the on-disk layout of FileName.
type file struct {
	Release      ReleaseConfig            `yaml:"release"`
	Deploy       map[string]DeployConfig  `yaml:"deploy" validate:"dive"`
	Git          ProviderConfig           `yaml:"git"`
	IssueTracker ProviderConfig           `yaml:"issue_tracker"`
	Projects     map[string]ProjectConfig `yaml:"projects"`
	Storage      struct {
		Backend string `yaml:"backend" validate:"omitempty,oneof=s3 gcs keydb bolt memory"`
	} `yaml:"storage"`
	Region string `yaml:"region"`
}

// Load reads configuration from environment variables. Settings that live in
// FileName are filled in by LoadFile.
func Load() Config {
	home, _ := os.UserHomeDir()

	return Config{
		AWS: AWSConfig{
			Profile:   envDefault("CATAPULT_AWS_PROFILE", "default"),
			MFADevice: os.Getenv("CATAPULT_AWS_MFA_DEVICE"),
		},
		GitRepo:     envDefault("CATAPULT_GIT_REPO", "./"),
		SessionPath: envDefault("CATAPULT_SESSION", filepath.Join(home, ".catapult")),
		Format:      os.Getenv("CATAPULT_FORMAT"),
		Region:      os.Getenv("CATAPULT_REGION"),
		Storage: StorageConfig{
			Backend: StorageBackend(strings.ToLower(os.Getenv("CATAPULT_STORAGE_BACKEND"))),
			KeyDB: storage.Config{
				Addr:     os.Getenv("KEYDB_ADDR"),
				Username: os.Getenv("KEYDB_USERNAME"),
				Password: os.Getenv("KEYDB_PASSWORD"),
				Database: envInt("KEYDB_DB", 0),
			},
			GCS: storage.GCSConfig{
				CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
				Endpoint:        os.Getenv("CATAPULT_GCS_ENDPOINT"),
			},
			BoltPath: envDefault("CATAPULT_BOLT_PATH", filepath.Join(home, ".catapult.db")),
		},
		Tokens: TokenConfig{
			GitHub:    os.Getenv("GITHUB_API_TOKEN"),
			Shortcut:  os.Getenv("SHORTCUT_API_TOKEN"),
			Clubhouse: os.Getenv("CH_TOKEN"),
		},
	}
}

// LoadFile merges FileName from dir into c. Environment settings win over the
// file; the storage backend defaults to s3 when neither sets it.
func (c *Config) LoadFile(dir string) error {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validate(f); err != nil {
		return fmt.Errorf("invalid %s: %w", path, err)
	}

	c.Release = f.Release
	c.Deploy = f.Deploy
	c.Git = f.Git
	c.IssueTracker = f.IssueTracker
	c.Projects = f.Projects
	if c.Region == "" {
		c.Region = f.Region
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackend(strings.ToLower(f.Storage.Backend))
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendS3
	}
	return nil
}

func validate(f file) error {
	err := validator.New().Struct(f)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Envs returns the configured deploy environments in name order.
func (c Config) Envs() []string {
	names := make([]string, 0, len(c.Deploy))
	for name := range c.Deploy {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DeployBucket returns the bucket holding env's deploy ledger.
func (c Config) DeployBucket(env string) (string, error) {
	d, ok := c.Deploy[env]
	if !ok {
		return "", &UnknownEnvironmentError{Env: env, Known: c.Envs()}
	}
	return d.Bucket, nil
}

// Image returns the image reference a release of project at commit is built as.
// imageName overrides the configured or prefixed project name.
func (c Config) Image(project, imageName, commit string) string {
	if imageName == "" {
		imageName = c.Projects[project].ImageName
	}
	if imageName == "" {
		imageName = c.Release.DockerImagePrefix + project
	}
	return fmt.Sprintf("%s/%s:ref-%s", c.Release.DockerRepository, imageName, commit)
}

// Paths returns the changelog paths of project, nil when unrestricted.
func (c Config) Paths(project string) []string {
	return c.Projects[project].Paths
}

func envDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}
