package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/D9292S/Quantum-Bank/quantumbank"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
)

// passwordReader reads a password without echoing it. Overridable so
// tests can feed passwords without a terminal.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set admin credentials",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal(
				"Environment variable QB_DATABASE_TYPE not set " +
					"(must be one of: sqlite, postgres)",
			)
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable QB_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		db, err := quantumbank.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		runtimeConfig, err := bootstrapRuntimeConfig(db)
		if err != nil {
			log.Fatalf("Error loading runtime config: %v", err)
		}

		out := cmd.OutOrStdout()
		if runtimeConfig.AdminUsername != "" && runtimeConfig.AdminPassword != "" {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else if err = setAdminCredentials(out, db, runtimeConfig); err != nil {
			log.Fatalf("Error setting admin credentials: %v", err)
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the server with the 'run' subcommand.",
		)
	},
}

// bootstrapRuntimeConfig loads the runtime config row, creating it with
// defaults on a fresh database.
func bootstrapRuntimeConfig(db *gorm.DB) (*quantumbank.RuntimeConfig, error) {
	var runtimeConfig quantumbank.RuntimeConfig
	err := db.Last(&runtimeConfig).Error
	switch {
	case err == nil:
		return &runtimeConfig, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		runtimeConfig = quantumbank.DefaultRuntimeConfig()
		if err = db.Create(&runtimeConfig).Error; err != nil {
			return nil, err
		}
		return &runtimeConfig, nil
	default:
		return nil, err
	}
}

// setAdminCredentials prompts for a username and password on stdin and
// stores them on the runtime config, with the password hashed.
func setAdminCredentials(
	out io.Writer,
	db *gorm.DB,
	runtimeConfig *quantumbank.RuntimeConfig,
) error {
	fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

	reader := bufio.NewReader(os.Stdin)
	fmt.Fprint(out, "Enter admin username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)

	if customPasswordReader == nil {
		customPasswordReader = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}

	var password string
	for {
		fmt.Fprint(out, "Enter admin password: ")
		passwordBytes, _ := customPasswordReader()
		password = string(passwordBytes)
		fmt.Fprintln(out)

		fmt.Fprint(out, "Confirm admin password: ")
		confirmBytes, _ := customPasswordReader()
		fmt.Fprintln(out)

		if password == string(confirmBytes) {
			break
		}
		fmt.Fprintln(out, "Passwords do not match. Please try again.")
	}

	hashed, err := quantumbank.HashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	err = db.Model(runtimeConfig).Updates(
		map[string]any{
			"admin_username": username,
			"admin_password": hashed,
		},
	).Error
	if err != nil {
		return fmt.Errorf("error updating admin credentials: %w", err)
	}
	fmt.Fprintln(out, "Admin credentials set successfully.")
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
