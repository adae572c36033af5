// Command tradeauth-hash prompts for a password and prints its PHC hash for
// provisioning credential records.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/abctrading/tradeauth/password"
)

// readPassword and isTerminal are test seams for the terminal calls.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "tradeauth-hash:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tradeauth-hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		algo    = fs.String("algo", password.AlgorithmArgon2id, "hash algorithm: argon2id or bcrypt")
		memory  = fs.Uint("memory", 64*1024, "argon2id memory in KiB")
		time    = fs.Uint("time", 3, "argon2id iterations")
		threads = fs.Uint("threads", 2, "argon2id parallelism")
		cost    = fs.Int("cost", 12, "bcrypt cost")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	hasher, err := newHasher(*algo, uint32(*memory), uint32(*time), uint8(*threads), *cost)
	if err != nil {
		return err
	}

	pw, err := readSecret(stdin, stderr)
	if err != nil {
		return err
	}
	defer wipe(pw)

	hash, err := hasher.Hash(string(pw))
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func newHasher(algo string, memory, iterations uint32, threads uint8, cost int) (password.Hasher, error) {
	switch algo {
	case password.AlgorithmArgon2id:
		return password.NewArgon2(password.Config{
			Memory:      memory,
			Time:        iterations,
			Parallelism: threads,
			SaltLength:  16,
			KeyLength:   32,
		})
	case password.AlgorithmBcrypt:
		return password.NewBcrypt(cost)
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algo)
	}
}

// readSecret prompts twice without echo on a terminal. Piped input is read
// as a single line.
func readSecret(stdin *os.File, prompt io.Writer) ([]byte, error) {
	fd := int(stdin.Fd())
	if !isTerminal(fd) {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		pw := []byte(strings.TrimRight(line, "\r\n"))
		if len(pw) == 0 {
			return nil, errors.New("empty password")
		}
		return pw, nil
	}

	fmt.Fprint(prompt, "Enter password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, errors.New("empty password")
	}

	fmt.Fprint(prompt, "Confirm password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		wipe(first)
		return nil, err
	}
	defer wipe(second)
	if !bytes.Equal(first, second) {
		wipe(first)
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
