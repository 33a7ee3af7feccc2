// Command flytecfs mounts a Flytec/Brauniger flight instrument, reached
// over a serial line, as a FUSE filesystem.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bgrewell/usage"

	"github.com/twpayne/flytecfs/internal/cache"
	"github.com/twpayne/flytecfs/internal/device"
	"github.com/twpayne/flytecfs/internal/logging"
	"github.com/twpayne/flytecfs/internal/proxy"
	"github.com/twpayne/flytecfs/internal/serial"
	"github.com/twpayne/flytecfs/internal/vfs"
)

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "flytecfs")
	}
	return ".flytecfs-cache"
}

func run() error {
	u := usage.NewUsage(
		usage.WithApplicationName("flytecfs"),
		usage.WithApplicationDescription("flytecfs mounts a Flytec/Brauniger flight instrument as a read/write FUSE filesystem of its routes, waypoints, tracklogs, and settings memory."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	debug := u.AddBooleanOption("d", "debug", false, "Enable trace-level protocol logging", "optional", nil)
	device_ := u.AddStringOption("s", "device", "/dev/ttyUSB0", "Serial device the instrument is attached to", "optional", nil)
	cacheDir := u.AddStringOption("c", "cache-dir", defaultCacheDir(), "Directory used for the on-disk tracklog/rename cache", "optional", nil)
	mountpoint := u.AddArgument(1, "mountpoint", "Directory to mount the filesystem at", "")

	if !u.Parse() {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}
	if *help {
		u.PrintUsage()
		os.Exit(0)
	}
	if mountpoint == nil || *mountpoint == "" {
		u.PrintError(fmt.Errorf("mountpoint must be provided"))
		os.Exit(1)
	}

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelTrace
	}
	log := logging.NewLogger(logging.NewSimpleLogger(os.Stderr, level, true))

	transport, err := serial.OpenTransport(*device_, serial.WithLogger(log.Raw()))
	if err != nil {
		return fmt.Errorf("open %s: %w", *device_, err)
	}
	defer transport.Close()

	drv := device.New(transport, log)
	px := proxy.New(drv)

	c, err := cache.New(px, *cacheDir, cache.WithLogger(log))
	if err != nil {
		return fmt.Errorf("read device identity: %w", err)
	}
	log.Info("mounting", "instrument", c.SNP().Instrument, "serial", c.SNP().SerialNumber, "mountpoint", *mountpoint)

	server, err := vfs.Mount(*mountpoint, c, log)
	if err != nil {
		return fmt.Errorf("mount %s: %w", *mountpoint, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("unmounting", "mountpoint", *mountpoint)
		server.Unmount()
	}()

	server.Serve()
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flytecfs:", err)
		os.Exit(1)
	}
}
