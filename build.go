package main

// Builds midmx binaries: go run build.go -platforms linux-arm-v7,linux-arm64
// The rtmidi input driver is cgo (C++), cross targets need a gcc/g++ toolchain with a matching prefix,
// e.g. arm-linux-gnueabihf-gcc from the gcc-arm-linux-gnueabihf package.

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

type target struct {
	goos      string
	goarch    string
	goarm     string
	toolchain string // gcc triplet prefix used for cgo when cross compiling
}

var availableTargets = []target{
	{goos: "linux", goarch: "arm", goarm: "5", toolchain: "arm-linux-gnueabi"},
	{goos: "linux", goarch: "arm", goarm: "6", toolchain: "arm-linux-gnueabihf"},
	{goos: "linux", goarch: "arm", goarm: "7", toolchain: "arm-linux-gnueabihf"},
	{goos: "linux", goarch: "arm64", toolchain: "aarch64-linux-gnu"}, // ARMv8
	{goos: "linux", goarch: "386", toolchain: "i686-linux-gnu"},
	{goos: "linux", goarch: "amd64", toolchain: "x86_64-linux-gnu"},
}

var errNoToolchain = errors.New("cross compiler not found")

func (t target) String() string {
	if t.goarm != "" {
		return fmt.Sprintf("%s-%s-v%s", t.goos, t.goarch, t.goarm)
	}
	return fmt.Sprintf("%s-%s", t.goos, t.goarch)
}

func (t target) native(host target) bool {
	return t.goos == host.goos && t.goarch == host.goarch
}

func (t target) cc() string  { return t.toolchain + "-gcc" }
func (t target) cxx() string { return t.toolchain + "-g++" }

// env returns build environment overrides, cross targets with cgo get their own C and C++ compilers.
func (t target) env(cgo bool, host target) []string {
	var vars = []string{"GOOS=" + t.goos, "GOARCH=" + t.goarch}
	if t.goarm != "" {
		vars = append(vars, "GOARM="+t.goarm)
	}
	if !cgo {
		return append(vars, "CGO_ENABLED=0")
	}
	vars = append(vars, "CGO_ENABLED=1")
	if t.native(host) {
		return vars
	}
	return append(vars, "CC="+t.cc(), "CXX="+t.cxx())
}

// resolve turns platform selection into targets, "native" picks targets matching the host.
func resolve(selection string, host target) ([]target, error) {
	switch selection {
	case "all":
		return append([]target(nil), availableTargets...), nil
	case "native", "":
		var out []target
		for _, t := range availableTargets {
			// one arm flavour is enough for the host
			if t.native(host) && (t.goarch != "arm" || t.goarm == "7") {
				out = append(out, t)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("host platform %s is not a build target", host)
		}
		return out, nil
	}

	var out []target
	for _, name := range strings.Split(selection, ",") {
		var found bool
		for _, t := range availableTargets {
			if t.String() == name {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("target not found: %s", name)
		}
	}
	return out, nil
}

type result struct {
	target         target
	stdout, stderr string
	err            error
}

type builder struct {
	project, basename string
	cgo, race         bool
	host              target
	lookPath          func(string) (string, error)
}

func (b builder) build(t target) result {
	var r = result{target: t}
	if b.cgo && !t.native(b.host) {
		if _, err := b.lookPath(t.cc()); err != nil {
			r.err = fmt.Errorf("%w: %s (install it or use -cgo=false)", errNoToolchain, t.cc())
			return r
		}
	}

	var params = []string{"build", "-o", fmt.Sprintf("./builds/%s-%s", b.basename, t)}
	if b.race {
		params = append(params, "-race")
	}
	params = append(params, b.project)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command("go", params...)
	cmd.Env = append(os.Environ(), t.env(b.cgo, b.host)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.err = cmd.Run()
	r.stdout, r.stderr = stdout.String(), stderr.String()
	return r
}

func main() {
	var names []string
	for _, t := range availableTargets {
		names = append(names, t.String())
	}

	var b = builder{
		host:     target{goos: runtime.GOOS, goarch: runtime.GOARCH},
		lookPath: exec.LookPath,
	}
	var selection string
	flag.StringVar(&selection, "platforms", "native", fmt.Sprintf(
		"comma-separated target platform list, \"native\" or \"all\"\navailable: %s", strings.Join(names, ",")),
	)
	flag.StringVar(&b.project, "project", "./cmd/midmx/", "choose project directory")
	flag.StringVar(&b.basename, "base", "MIDMX", "base filename for output binaries")
	flag.BoolVar(&b.cgo, "cgo", true, "cgo, required by rtmidi input driver")
	flag.BoolVar(&b.race, "race", false, "include race detector")
	flag.Parse()

	log.SetFlags(log.Ltime)

	targets, err := resolve(selection, b.host)
	if err != nil {
		log.Printf("%s", err)
		os.Exit(1)
	}

	names = names[:0]
	for _, t := range targets {
		names = append(names, t.String())
	}
	log.Printf("selected targets: %s", strings.Join(names, ", "))

	var results = make(chan result, len(targets))
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			log.Printf("building %s for %s", b.project, t)
			results <- b.build(t)
		}(t)
	}
	wg.Wait()
	close(results)

	var failed int
	for r := range results {
		if r.err == nil {
			log.Printf("built %s", r.target)
			continue
		}
		failed++
		fmt.Printf("\n>>> Failed build: project: %s, target: %s: %s\n", b.project, r.target, r.err)
		if r.stdout != "" {
			fmt.Printf("======== STDOUT ========\n%s========================\n", r.stdout)
		}
		if r.stderr != "" {
			fmt.Printf("======== STDERR ========\n%s========================\n", r.stderr)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
