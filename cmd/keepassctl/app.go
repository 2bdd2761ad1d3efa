package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"keepassdb/database"
	"keepassdb/internal/config"
	"keepassdb/telemetry"
)

// run builds and executes the keepassctl command tree, returning the
// process exit code. Kept separate from main so tests can drive it
// without touching os.Args/os.Exit.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	settings, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	level := slog.LevelInfo
	if settings.Verbose {
		level = slog.LevelDebug
	}
	svc := telemetry.New(telemetry.WithLevel(level))
	defer svc.Shutdown()

	_ = stdin // reserved for an interactive password prompt, not yet wired

	root := newRootCommand(svc, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCommand(svc *telemetry.Service, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keepassctl",
		Short:         "Inspect and query KeePass (KDB/KDBX3/KDBX4) databases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Flags consumed by internal/config.Parse are declared here too so
	// `--help` documents them; their values are read by config.Parse
	// directly from args rather than from cobra's bindings.
	cmd.PersistentFlags().String("config", "", "path to a keepassctl config file")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	cmd.PersistentFlags().String("default-kdf", "argon2id", "default KDF for new databases: aes-kdf, argon2d, argon2id")
	cmd.PersistentFlags().String("default-cipher", "aes256", "default cipher for new databases: aes256, chacha20, twofish")
	cmd.PersistentFlags().String("default-compression", "gzip", "default compression for new databases: none, gzip")

	cmd.AddCommand(newDumpCommand(svc, stdout))
	cmd.AddCommand(newShowOTPCommand(svc, stdout))
	return cmd
}

func openKeyFlags(cmd *cobra.Command) (password string, keyfilePath string) {
	password, _ = cmd.Flags().GetString("password")
	keyfilePath, _ = cmd.Flags().GetString("keyfile")
	return
}

func openDatabase(svc *telemetry.Service, path, password, keyfilePath string) (*database.Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	key := database.NewDatabaseKey().WithPassword(password)
	if keyfilePath != "" {
		kf, err := os.Open(keyfilePath)
		if err != nil {
			return nil, err
		}
		defer kf.Close()
		key, err = key.WithKeyfile(kf)
		if err != nil {
			return nil, err
		}
	}

	return database.Open(f, key, database.WithTelemetry(svc))
}

func newDumpCommand(svc *telemetry.Service, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <database>",
		Short: "Print a database's group/entry tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, keyfilePath := openKeyFlags(cmd)
			db, err := openDatabase(svc, args[0], password, keyfilePath)
			if err != nil {
				svc.Logger.Error("dump: open failed", "error", err)
				return err
			}

			db.Walk(func(n *database.Node) {
				fmt.Fprintf(stdout, "%s %s\n", n.Kind, n.Title())
			})
			return nil
		},
	}
	cmd.Flags().String("password", "", "master password")
	cmd.Flags().String("keyfile", "", "path to a key file")
	return cmd
}

func newShowOTPCommand(svc *telemetry.Service, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show-otp <database> <entry-title>",
		Short: "Print the current TOTP code for a matching entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, keyfilePath := openKeyFlags(cmd)
			db, err := openDatabase(svc, args[0], password, keyfilePath)
			if err != nil {
				svc.Logger.Error("show-otp: open failed", "error", err)
				return err
			}

			title := args[1]
			var match *database.EntryData
			db.Walk(func(n *database.Node) {
				if match == nil && n.Kind == database.KindEntry && n.Entry.Title() == title {
					match = n.Entry
				}
			})
			if match == nil {
				return fmt.Errorf("show-otp: no entry titled %q", title)
			}

			code, err := match.CurrentOTP()
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, code)
			return nil
		},
	}
	cmd.Flags().String("password", "", "master password")
	cmd.Flags().String("keyfile", "", "path to a key file")
	return cmd
}

