// Package config implements the flag/env/file layering for the
// keepassctl command-line front end, flags over environment over
// config file over defaults. Library callers never touch this package:
// database.Config is constructed directly by code, not by flags.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"keepassdb/apperr"
)

// KDFName and CompressionName mirror the string spellings accepted on
// the command line and in a config file, kept here rather than in the
// root package so cmd/ doesn't need to import format internals just to
// parse a flag.
type KDFName string

const (
	KDFAESKDF   KDFName = "aes-kdf"
	KDFArgon2d  KDFName = "argon2d"
	KDFArgon2id KDFName = "argon2id"
)

type CompressionName string

const (
	CompressionNone CompressionName = "none"
	CompressionGzip CompressionName = "gzip"
)

// Settings holds the fully resolved configuration for keepassctl,
// after flags, environment variables (KEEPASSCTL_* prefix), and an
// optional config file have all been layered by Parse.
type Settings struct {
	ConfigFile string
	LogLevel   string
	Verbose    bool

	DefaultKDF         KDFName
	DefaultCipher      string
	DefaultCompression CompressionName
}

func defaults() *Settings {
	return &Settings{
		LogLevel:           "info",
		DefaultKDF:         KDFArgon2id,
		DefaultCipher:      "aes256",
		DefaultCompression: CompressionGzip,
	}
}

// Parse layers flags over environment variables over an optional
// config file over the built-in defaults, returning the resolved
// Settings. args is normally os.Args[1:].
func Parse(args []string) (*Settings, error) {
	s := defaults()

	flags := pflag.NewFlagSet("keepassctl", pflag.ContinueOnError)
	// Subcommand-specific flags (--password, --keyfile, …) are not
	// registered here; this set only extracts the global settings, so
	// unknown flags are left for cobra to parse rather than rejected.
	flags.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	flags.StringVar(&s.ConfigFile, "config", "", "path to a keepassctl config file")
	flags.StringVar(&s.LogLevel, "log-level", s.LogLevel, "log level: debug, info, warn, error")
	flags.BoolVarP(&s.Verbose, "verbose", "v", false, "enable verbose logging")
	flags.String("default-kdf", string(s.DefaultKDF), "default KDF for new databases: aes-kdf, argon2d, argon2id")
	flags.String("default-cipher", s.DefaultCipher, "default cipher for new databases: aes256, chacha20, twofish")
	flags.String("default-compression", string(s.DefaultCompression), "default compression for new databases: none, gzip")

	if err := flags.Parse(args); err != nil {
		return nil, apperr.Invariant("config: failed to parse flags", err)
	}

	v := viper.New()
	v.SetEnvPrefix("KEEPASSCTL")
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, apperr.Invariant("config: failed to bind flags", err)
	}

	if s.ConfigFile != "" {
		v.SetConfigFile(s.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.IO(fmt.Sprintf("config: failed to read %s", s.ConfigFile), err)
		}
	}

	s.LogLevel = v.GetString("log-level")
	s.Verbose = v.GetBool("verbose")
	s.DefaultKDF = KDFName(v.GetString("default-kdf"))
	s.DefaultCipher = v.GetString("default-cipher")
	s.DefaultCompression = CompressionName(v.GetString("default-compression"))

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	switch s.DefaultKDF {
	case KDFAESKDF, KDFArgon2d, KDFArgon2id:
	default:
		return apperr.Invariant(fmt.Sprintf("config: unknown default-kdf %q", s.DefaultKDF), nil)
	}
	switch s.DefaultCompression {
	case CompressionNone, CompressionGzip:
	default:
		return apperr.Invariant(fmt.Sprintf("config: unknown default-compression %q", s.DefaultCompression), nil)
	}
	return nil
}

// RequireNewForTest returns Settings with only the defaults applied,
// for tests that need a Settings value without parsing argv.
func RequireNewForTest() *Settings {
	return defaults()
}
