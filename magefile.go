//go:build mage

// ringserver build tasks.
// Install mage: go install github.com/magefile/mage@latest
// Run: mage [target]
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir     = "bin"
	resultsDir = "results"
)

var (
	green  = "\033[0;32m"
	yellow = "\033[1;33m"
	nc     = "\033[0m"
)

// binaries maps each output name to its main package.
var binaries = []struct{ name, pkg string }{
	{"server", "./cmd/server"},
	{"bench", "./cmd/bench"},
}

// engines lists every -engine value of the server binary, fastest first.
var engines = []string{"iouring", "epoll", "stdhttp", "chi", "gin", "echo", "fiber", "iris"}

// Default target when running mage without arguments
var Default = Build

// Build builds server and bench for the host platform
func Build() error {
	return build(runtime.GOOS, runtime.GOARCH, "")
}

// BuildLinux cross-compiles for Linux amd64
func BuildLinux() error {
	return build("linux", "amd64", "-linux-amd64")
}

// BuildLinuxArm cross-compiles for Linux arm64
func BuildLinuxArm() error {
	return build("linux", "arm64", "-linux-arm64")
}

// BuildAll cross-compiles for every supported platform
func BuildAll() error {
	mg.Deps(BuildLinux, BuildLinuxArm)
	return nil
}

func build(goos, goarch, suffix string) error {
	printGreen("Building for %s/%s...", goos, goarch)
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return err
	}
	env := map[string]string{"GOOS": goos, "GOARCH": goarch}
	for _, b := range binaries {
		out := filepath.Join(binDir, b.name+suffix)
		if err := sh.RunWith(env, "go", "build", "-o", out, b.pkg); err != nil {
			return err
		}
	}
	printGreen("Build complete")
	return nil
}

// Lint runs golangci-lint
func Lint() error {
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		printYellow("golangci-lint not installed. Installing...")
		if err := sh.Run("go", "install", "github.com/golangci/golangci-lint/cmd/golangci-lint@latest"); err != nil {
			return err
		}
	}
	return sh.Run("golangci-lint", "run", "--timeout=5m", "./...")
}

// Fmt formats Go code
func Fmt() error {
	return sh.Run("gofmt", "-s", "-w", ".")
}

// Vet runs go vet, including the Linux-only files on other hosts
func Vet() error {
	if err := sh.Run("go", "vet", "./..."); err != nil {
		return err
	}
	if runtime.GOOS == "linux" {
		return nil
	}
	return sh.RunWith(map[string]string{"GOOS": "linux"}, "go", "vet", "./...")
}

// Test runs unit tests
func Test() error {
	printGreen("Running tests...")
	return sh.Run("go", "test", "./...")
}

// TestRace runs the engine and worker tests under the race detector
func TestRace() error {
	printGreen("Running race tests...")
	return sh.Run("go", "test", "-race", "-count=1", "./internal/engine/...", "./internal/worker/...")
}

// Benchmark runs every engine for 30s, writes results/<engine>.json and
// records each run in results/history
func Benchmark() error {
	mg.Deps(Build)
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return err
	}
	for _, engine := range engines {
		err := benchEngine(engine, "30s",
			"-output", filepath.Join(resultsDir, engine+".json"),
			"-store", filepath.Join(resultsDir, "history"))
		if err != nil {
			return fmt.Errorf("%s: %w", engine, err)
		}
	}
	return History()
}

// BenchmarkQuick runs the io_uring engine for 5s as a smoke test
func BenchmarkQuick() error {
	mg.Deps(Build)
	return benchEngine("iouring", "5s")
}

// History prints the runs recorded by Benchmark
func History() error {
	return sh.RunV(filepath.Join(binDir, "bench"), "-store", filepath.Join(resultsDir, "history"), "-server", "", "-history", "20")
}

// benchEngine starts the server with engine, benchmarks it and interrupts it.
func benchEngine(engine, duration string, extra ...string) error {
	printGreen("Benchmarking %s...", engine)
	server := exec.Command(filepath.Join(binDir, "server"), "-engine", engine)
	server.Stdout = os.Stdout
	server.Stderr = os.Stderr
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		_ = server.Process.Signal(os.Interrupt)
		_ = server.Wait()
	}()

	args := append([]string{"-server", engine, "-duration", duration, "-warmup", "2s"}, extra...)
	return sh.RunV(filepath.Join(binDir, "bench"), args...)
}

// Deps downloads and tidies Go dependencies
func Deps() error {
	if err := sh.Run("go", "mod", "download"); err != nil {
		return err
	}
	return sh.Run("go", "mod", "tidy")
}

// Check runs deps, lint, vet, test and build in order
func Check() error {
	mg.SerialDeps(Deps, Lint, Vet, Test, Build)
	printGreen("All checks passed")
	return nil
}

// Clean removes build artifacts and results
func Clean() error {
	for _, dir := range []string{binDir, resultsDir} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	printGreen("Clean complete")
	return nil
}

func printGreen(format string, args ...any) {
	fmt.Printf("%s%s%s\n", green, fmt.Sprintf(format, args...), nc)
}

func printYellow(format string, args ...any) {
	fmt.Printf("%s%s%s\n", yellow, fmt.Sprintf(format, args...), nc)
}
