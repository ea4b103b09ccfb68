// Package redis holds the connection settings and key layout shared by the
// redis source and sink.
package redis

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/connector/base"
	"github.com/binarymachines/mercury/pkg/errors"
)

// Mode is how a record is stored under its key.
type Mode string

const (
	// Hash stores each field as a hash field, values as strings.
	Hash Mode = "hash"
	// JSON stores the record as a JSON string.
	JSON Mode = "json"
)

// Options are the parsed redis settings.
type Options struct {
	Client   *goredis.Options
	Mode     Mode
	Prefix   string
	KeyField string
}

// Parse reads addr, password, db, tls, mode, prefix and key_field.
func Parse(settings config.Settings) (Options, error) {
	db, err := settings.Int("db", 0)
	if err != nil {
		return Options{}, err
	}
	useTLS, err := settings.Bool("tls", false)
	if err != nil {
		return Options{}, err
	}
	mode := Mode(strings.ToLower(settings.String("mode", string(Hash))))
	if mode != Hash && mode != JSON {
		return Options{}, errors.Newf(errors.ErrorTypeConfig, "redis mode must be hash or json, got %q", mode)
	}
	client := &goredis.Options{
		Addr:         settings.String("addr", "localhost:6379"),
		Username:     settings.String("username", ""),
		Password:     settings.String("password", ""),
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if useTLS {
		client.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return Options{
		Client:   client,
		Mode:     mode,
		Prefix:   settings.String("prefix", ""),
		KeyField: settings.String("key_field", ""),
	}, nil
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, o Options) (*goredis.Client, error) {
	c := goredis.NewClient(o.Client)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, Classify(err, "connect to redis "+o.Client.Addr)
	}
	return c, nil
}

// Classify maps a redis failure to an error type.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	text := err.Error()
	switch {
	case strings.HasPrefix(text, "NOAUTH"), strings.HasPrefix(text, "WRONGPASS"):
		return errors.Wrap(err, errors.ErrorTypeAuthentication, msg)
	case strings.HasPrefix(text, "WRONGTYPE"):
		return errors.Wrap(err, errors.ErrorTypeWrite, msg)
	}
	return base.Classify(err, msg)
}
