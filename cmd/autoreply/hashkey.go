package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const minAPIKeyLength = 16

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Print the bcrypt hash of an API key for api.api_key_hash",
	Long: `Hash an API key so the configuration stores only api.api_key_hash.
Without an argument the key is read from the terminal, or from stdin when
stdin is not a terminal.

Examples:
  autoreply hash-key
  echo "$AUTOREPLY_API_KEY" | autoreply hash-key`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashKey,
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}

func runHashKey(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		var err error
		key, err = readKey(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}

	if len(key) < minAPIKeyLength {
		return fmt.Errorf("API key must be at least %d characters", minAPIKeyLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}

func readKey(in io.Reader, prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if in != os.Stdin || !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(prompt, "Enter API key: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}

	fmt.Fprint(prompt, "Confirm API key: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("keys do not match")
	}
	return string(first), nil
}
