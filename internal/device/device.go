// Package device enumerates compute devices that can host model layers.
// An empty list means CPU only.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"strings"
	"sync"

	"ghostd/pkg/types"
)

// Enumerator lists devices. Implementations may be slow (they can spawn
// processes); callers should not invoke them on latency-sensitive paths.
type Enumerator interface {
	Devices(ctx context.Context) ([]types.Device, error)
}

// Func adapts a function to an Enumerator.
type Func func(ctx context.Context) ([]types.Device, error)

func (f Func) Devices(ctx context.Context) ([]types.Device, error) { return f(ctx) }

// Static always returns the same list.
type Static []types.Device

func (s Static) Devices(context.Context) ([]types.Device, error) {
	return append([]types.Device(nil), s...), nil
}

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CLI asks the llama.cpp command-line tool for its device list.
type CLI struct {
	Binary string
	Run    Runner
}

// NewCLI returns a CLI enumerator for binary (default "llama-cli").
func NewCLI(binary string) *CLI {
	if binary == "" {
		binary = "llama-cli"
	}
	return &CLI{Binary: binary, Run: execRunner}
}

func (c *CLI) Devices(ctx context.Context) ([]types.Device, error) {
	out, err := c.Run(ctx, c.Binary, "--list-devices")
	if err != nil {
		return nil, fmt.Errorf("%s --list-devices: %w", c.Binary, err)
	}
	return ParseList(string(out)), nil
}

// ParseList parses "id: name" lines, skipping blank lines and headers that
// start with "Available".
func ParseList(out string) []types.Device {
	var devs []types.Device
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "Available") {
			continue
		}
		id, name, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		devs = append(devs, types.Device{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)})
	}
	return devs
}

var vendorNames = map[string]string{
	"0x1002": "AMD GPU",
	"0x10de": "NVIDIA GPU",
	"0x8086": "Intel GPU",
}

// Sysfs probes the DRM class directory. FS is rooted at "/".
type Sysfs struct {
	FS fs.FS
}

// NewSysfs returns a probe over the real root filesystem.
func NewSysfs() *Sysfs { return &Sysfs{FS: os.DirFS("/")} }

func (s *Sysfs) Devices(context.Context) ([]types.Device, error) {
	var devs []types.Device
	entries, err := fs.ReadDir(s.FS, "sys/class/drm")
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			// connectors look like card0-DP-1
			if !strings.HasPrefix(name, "card") || strings.Contains(name, "-") {
				continue
			}
			n := len(devs)
			label := fmt.Sprintf("GPU %d", n)
			if b, err := fs.ReadFile(s.FS, path.Join("sys/class/drm", name, "device/vendor")); err == nil {
				if v, ok := vendorNames[strings.TrimSpace(string(b))]; ok {
					label = v
				}
			}
			devs = append(devs, types.Device{ID: fmt.Sprint(n), Name: label})
		}
	}
	if len(devs) == 0 {
		if _, err := fs.Stat(s.FS, "dev/dri/card0"); err == nil {
			devs = append(devs, types.Device{ID: "0", Name: "GPU (detected via /dev/dri)"})
		}
	}
	return devs, nil
}

// Chain returns the result of the first enumerator that succeeds, even when
// that result is empty.
type Chain []Enumerator

func (c Chain) Devices(ctx context.Context) ([]types.Device, error) {
	var errs []error
	for _, e := range c {
		devs, err := e.Devices(ctx)
		if err == nil {
			return devs, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return nil, errors.Join(errs...)
}

// Default is the llama-cli listing with the sysfs probe as fallback.
func Default() Enumerator {
	return NewCached(Chain{NewCLI(""), NewSysfs()})
}

// Cached remembers the first successful enumeration until Reset.
type Cached struct {
	inner Enumerator

	mu   sync.Mutex
	done bool
	devs []types.Device
}

func NewCached(inner Enumerator) *Cached { return &Cached{inner: inner} }

func (c *Cached) Devices(ctx context.Context) ([]types.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return append([]types.Device(nil), c.devs...), nil
	}
	devs, err := c.inner.Devices(ctx)
	if err != nil {
		return nil, err
	}
	c.devs, c.done = devs, true
	return append([]types.Device(nil), devs...), nil
}

// Reset forgets the cached list.
func (c *Cached) Reset() {
	c.mu.Lock()
	c.done, c.devs = false, nil
	c.mu.Unlock()
}

// Select returns the device with the preferred id, else the first device.
// ok is false when devs is empty.
func Select(devs []types.Device, preferred string) (types.Device, bool) {
	if len(devs) == 0 {
		return types.Device{}, false
	}
	for _, d := range devs {
		if d.ID == preferred {
			return d, true
		}
	}
	return devs[0], true
}
