package helpers

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var ErrNotInteractive = errors.New("helpers: stdin is not a terminal")

func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func PromptInfuraAPIKey() (string, error) {
	if !IsInteractive() {
		return "", ErrNotInteractive
	}

	fmt.Println()
	fmt.Println("=== Ethereum RPC Provider Setup ===")
	fmt.Println("collateral-client uses Infura for default Ethereum RPC access.")
	fmt.Println()
	fmt.Println("Create a free Infura account and API key here:")
	fmt.Println("👉 https://www.infura.io/register")
	fmt.Println()

	for {
		key := PromptLineWithDefault("Enter your Infura API Key", "")
		key = strings.TrimSpace(key)

		if key == "" {
			fmt.Println("❌ Infura API key cannot be empty.")
			continue
		}

		if err := ValidateInfuraKey(key); err != nil {
			fmt.Println("❌ " + err.Error())
			continue
		}

		return key, nil
	}
}

func ValidateInfuraKey(key string) error {
	if len(key) != 32 {
		return errors.New("invalid Infura API key length, expected 32 hexadecimal characters")
	}
	if !isHexString(key) {
		return errors.New("invalid Infura API key format, only hexadecimal characters (0-9, a-f) are allowed")
	}
	return nil
}

func isHexString(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func PromptLineWithDefault(label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return def
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

// PromptChoice lists options and returns the picked one. ok is false when the
// user enters nothing or stdin closes.
func PromptChoice(label string, options []string) (string, bool) {
	fmt.Println()
	fmt.Println(label)
	for i, o := range options {
		fmt.Printf("  %d) %s\n", i+1, o)
	}

	for {
		raw := PromptLineWithDefault("Choose (empty to cancel)", "")
		if raw == "" {
			return "", false
		}
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		for _, o := range options {
			if strings.EqualFold(o, raw) {
				return o, true
			}
		}
		fmt.Println("❌ Unknown choice.")
	}
}

// PromptConfirm asks a yes/no question; anything but y/yes is a no.
func PromptConfirm(question string) bool {
	answer := strings.ToLower(PromptLineWithDefault(question+" (y/N)", "n"))
	return answer == "y" || answer == "yes"
}

func PromptPassword(prompt string) ([]byte, error) {
	if !IsInteractive() {
		return nil, ErrNotInteractive
	}
	_, _ = fmt.Fprint(os.Stderr, prompt)

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(os.Stderr) // best-effort newline

	if err != nil {
		ZeroBytes(pw)
		return nil, fmt.Errorf("password input failed: %w", err)
	}

	if len(pw) < 8 {
		ZeroBytes(pw)
		return nil, fmt.Errorf("password must be at least 8 characters long")
	}

	for _, b := range pw {
		if !IsAllowedPasswordChar(b) {
			ZeroBytes(pw)
			return nil, fmt.Errorf(
				"password contains invalid characters (use letters, numbers, and special characters only)",
			)
		}
	}

	return pw, nil
}
