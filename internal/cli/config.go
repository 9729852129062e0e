package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/attrmap/backend"
	"github.com/jacentio/attrmap/backend/dynamo"
	"github.com/jacentio/attrmap/backend/sqlite"
	"github.com/jacentio/attrmap/store"
)

// FileConfig is the layout of the --config file. Flags override its values.
//
//	backend: dynamo
//	tablePrefix: prod-
//	profile: ops
//	store:
//	  maxAttributeLength: 1024
//	  consistentReads: true
type FileConfig struct {
	Backend     string    `yaml:"backend"`
	DB          string    `yaml:"db"`
	TablePrefix string    `yaml:"tablePrefix"`
	Profile     string    `yaml:"profile"`
	Store       yaml.Node `yaml:"store"`
}

// LoadFileConfig decodes a FileConfig and the store.Config nested in it.
func LoadFileConfig(r io.Reader) (FileConfig, store.Config, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && err != io.EOF {
		return fc, store.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if fc.Store.Kind == 0 {
		return fc, store.DefaultConfig(), nil
	}
	raw, err := yaml.Marshal(&fc.Store)
	if err != nil {
		return fc, store.Config{}, fmt.Errorf("encode store config: %w", err)
	}
	cfg, err := store.LoadConfig(bytes.NewReader(raw))
	return fc, cfg, err
}

// resolve merges the config file, if any, under the flags.
func (o *RootOptions) resolve() (FileConfig, store.Config, error) {
	fc := FileConfig{}
	cfg := store.DefaultConfig()
	if o.ConfigPath != "" {
		f, err := os.Open(o.ConfigPath)
		if err != nil {
			return fc, cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if fc, cfg, err = LoadFileConfig(f); err != nil {
			return fc, cfg, err
		}
	}
	override(&fc.Backend, o.Backend)
	override(&fc.DB, o.DB)
	override(&fc.TablePrefix, o.TablePrefix)
	override(&fc.Profile, o.Profile)
	if fc.Backend == "" {
		fc.Backend = "sqlite"
	}
	if fc.DB == "" {
		fc.DB = "attrmap.db"
	}
	return fc, cfg, nil
}

func override(dst *string, flag string) {
	if flag != "" {
		*dst = flag
	}
}

// session is an open store plus the resources behind it.
type session struct {
	store *store.Store
	close func() error
}

// open connects to the configured backend and builds a store over it.
func (o *RootOptions) open(ctx context.Context, errW io.Writer) (*session, error) {
	fc, cfg, err := o.resolve()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errW, &slog.HandlerOptions{Level: level}))
	cfg.Logger = logger
	if o.DryRun {
		cfg.DisableProvisioning = true
	}

	var (
		client backend.Client
		closer = func() error { return nil }
	)
	switch fc.Backend {
	case "dynamo":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if fc.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(fc.Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client = dynamo.New(dynamodb.NewFromConfig(awsCfg), dynamo.Config{
			TablePrefix: fc.TablePrefix,
			Logger:      logger,
		})
	case "sqlite":
		c, err := sqlite.Open(fc.DB)
		if err != nil {
			return nil, err
		}
		client, closer = c, c.Close
	default:
		return nil, fmt.Errorf("unknown backend %q", fc.Backend)
	}

	s, err := store.New(client, cfg)
	if err != nil {
		closer()
		return nil, err
	}
	return &session{store: s, close: closer}, nil
}
