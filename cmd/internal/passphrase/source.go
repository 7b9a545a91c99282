// Package passphrase resolves the signer keystore passphrase for the
// royaltysync binaries.
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

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The first result is cached.
type Source struct {
	envVar string
	prompt string
	lookup func(string) (string, bool)
	read   func() (string, error)
	out    io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: "Enter signer keystore passphrase: ",
		lookup: os.LookupEnv,
		read:   readTerminal,
		out:    os.Stderr,
	}
}

func readTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	bytes, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

var errNoTerminal = errors.New("no terminal available")

// Get returns the cached passphrase or resolves it on first use. A set but
// empty environment variable and whitespace-only input are both rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		fmt.Fprint(s.out, s.prompt)
		passphrase, err := s.read()
		fmt.Fprintln(s.out)
		if errors.Is(err, errNoTerminal) {
			if s.envVar != "" {
				s.err = fmt.Errorf("signer keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("signer keystore passphrase required and no terminal available")
			}
			return
		}
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(passphrase) == "" {
			s.err = errors.New("signer keystore passphrase cannot be empty")
			return
		}
		s.value = passphrase
	})

	return s.value, s.err
}
