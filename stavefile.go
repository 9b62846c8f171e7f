//go:build stave

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
)

// Default target when running `stave` with no arguments.
var Default = Build

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"i": Install,
	"c": Clean,
}

const binDir = "bin"

// binaries maps each installed binary to its main package. The CLI finds
// dropguardd next to itself, so both are built and installed together.
var binaries = []struct {
	name string
	pkg  string
}{
	{"dropguard", "./cmd/dropguard"},
	{"dropguardd", "./cmd/dropguardd"},
}

// All runs the complete build pipeline.
func All() error {
	st.Deps(Lint, Test)
	st.Deps(Build)
	return nil
}

// Build compiles the dropguard and dropguardd binaries.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}

	ldflags := buildLdflags()
	for _, b := range binaries {
		output := filepath.Join(binDir, exe(b.name))
		if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", output, b.pkg); err != nil {
			return fmt.Errorf("building %s: %w", b.name, err)
		}
	}
	return nil
}

// Install builds and installs both binaries to the user's GOBIN or /usr/local/bin.
func Install() error {
	st.Deps(Build)

	bin, err := installDir()
	if err != nil {
		return err
	}

	for _, b := range binaries {
		src := filepath.Join(binDir, exe(b.name))
		dst := filepath.Join(bin, exe(b.name))
		if st.Verbose() {
			fmt.Printf("Installing %s to %s\n", src, dst)
		}
		if err := sh.Copy(dst, src); err != nil {
			return err
		}
	}
	return nil
}

// Uninstall removes the installed binaries.
func Uninstall() error {
	bin, err := installDir()
	if err != nil {
		return err
	}

	for _, b := range binaries {
		target := filepath.Join(bin, exe(b.name))
		if _, err := os.Stat(target); os.IsNotExist(err) {
			if st.Verbose() {
				fmt.Printf("Binary not found at %s, nothing to uninstall\n", target)
			}
			continue
		}
		if st.Verbose() {
			fmt.Printf("Removing %s\n", target)
		}
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	return nil
}

func installDir() (string, error) {
	gocmd := st.GoCmd()
	bin, err := sh.Output(gocmd, "env", "GOBIN")
	if err != nil {
		return "", fmt.Errorf("determining GOBIN: %w", err)
	}
	if bin != "" {
		return bin, nil
	}
	gopath, err := sh.Output(gocmd, "env", "GOPATH")
	if err != nil {
		return "", fmt.Errorf("determining GOPATH: %w", err)
	}
	if gopath != "" {
		return filepath.Join(gopath, "bin"), nil
	}
	// Fallback to /usr/local/bin if GOPATH is not set.
	return "/usr/local/bin", nil
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// Test runs all tests with race detection and coverage.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if st.Verbose() {
		fmt.Printf("Removing %s/\n", binDir)
	}
	return sh.Rm(binDir + "/")
}

// Fmt formats all Go code.
func Fmt() error {
	if err := sh.Run("gofmt", "-w", "."); err != nil {
		return fmt.Errorf("running gofmt: %w", err)
	}
	return sh.Run("goimports", "-w", ".")
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// buildLdflags returns ldflags for version injection. Both binaries keep
// their version variables in package main.
func buildLdflags() string {
	version := "dev"
	commit := "unknown"
	date := time.Now().Format(time.RFC3339)

	if v, err := sh.Output("git", "describe", "--tags", "--always"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}

	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	return fmt.Sprintf("-X main.version=%s -X main.commit=%s -X main.date=%s", version, commit, date)
}
