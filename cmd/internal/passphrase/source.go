package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// DefaultEnv names the variable brokerctl reads the keystore passphrase from.
const DefaultEnv = "BROKERFUND_KEYSTORE_PASSPHRASE"

// Source resolves a keystore passphrase from an environment variable or an
// interactive prompt. The first result is cached.
type Source struct {
	envVar string
	prompt io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// prompting on the terminal.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: os.Stderr}
}

// Get returns the cached passphrase or resolves it on first use.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("keystore passphrase required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.prompt, "Enter keystore passphrase: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = errors.New("keystore passphrase cannot be empty")
			return
		}
		s.value = string(raw)
	})

	return s.value, s.err
}
