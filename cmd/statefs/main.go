//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/nemomobile/statefs/config"
	"github.com/nemomobile/statefs/fuse"
	"github.com/nemomobile/statefs/loader"
	"github.com/nemomobile/statefs/monitor"
	"github.com/nemomobile/statefs/vfs"
)

const (
	defaultCfgDir = "/var/lib/statefs"
	systemCfgDir  = defaultCfgDir + "/system"

	usage string = `statefs file-system

statefs is a daemon exposing system properties as a tree of regular
files. Consumers read property files and poll them for changes;
providers are plugins declared through config files and loaded on
first access.
`
)

// Globals to be populated at build time during Makefile processing.
var (
	version  string // extracted from VERSION file
	commitId string // latest git commit-id
	builtAt  string // build time
)

// cfgDir resolves the configuration directory from the global options.
func cfgDir(ctx *cli.Context) string {
	if dir := ctx.GlobalString("statefs-config-dir"); dir != "" {
		return dir
	}
	if ctx.GlobalBool("system") {
		return systemCfgDir
	}
	return defaultCfgDir
}

// statefs exit handler goroutine.
func exitHandler(
	signalChan chan os.Signal,
	svc *fuse.Service,
	prof interface{ Stop() }) {

	s := <-signalChan

	logrus.Warnf("statefs caught signal: %s", s)
	logrus.Info("Stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	// Stop the tree (config monitor, provider task queues, providers) and
	// unmount.
	svc.Destroy()

	if prof != nil {
		prof.Stop()
	}

	// Deferring exit() to allow FUSE to flush unmount logs.
	time.Sleep(time.Second)

	logrus.Info("Exiting ...")
	os.Exit(0)
}

// Run cpu / memory profiling collection.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {

	var prof interface{ Stop() }

	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("Unsupported parameter combination: cpu and memory profiling")
	}

	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		prof = profile.Start(
			profile.CPUProfile,
			profile.ProfilePath("."),
			profile.NoShutdownHook,
		)
	}

	if memProfOn {
		prof = profile.Start(
			profile.MemProfile,
			profile.ProfilePath("."),
			profile.NoShutdownHook,
		)
	}

	return prof, nil
}

// declaredLoaders registers the loader records declared in the config dir
// so introspection can resolve non-default kinds.
func declaredLoaders(dir string, reg *loader.Registry) {
	config.Visit(dir, func(_ string, rec config.Record) {
		if l, ok := rec.(*config.Loader); ok {
			reg.Register(l)
		}
	})
}

// introspect loads the library at path as a provider of the given kind;
// when that fails it probes the library as a loader instead.
func introspect(ctx *cli.Context, path string) (config.Record, error) {
	reg := loader.NewRegistry()
	declaredLoaders(cfgDir(ctx), reg)

	kind := ctx.GlobalString("statefs-type")
	rec, err := config.Introspect(reg, path, kind)
	if err == nil {
		return rec, nil
	}

	logrus.Infof("Not a %v provider, trying as a loader: %v", kind, err)
	proxy, lerr := loader.Open(path)
	if lerr != nil {
		return nil, fmt.Errorf("can't retrieve information from %v: %v", path, err)
	}
	return &config.Loader{
		Library: config.Library{Name: proxy.Name(), Path: path},
	}, nil
}

func dumpCmd(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.NewExitError("dump: provider library path is required", 1)
	}
	rec, err := introspect(ctx, ctx.Args().First())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return config.WriteRecord(os.Stdout, rec)
}

func registerCmd(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.NewExitError("register: provider library path is required", 1)
	}
	rec, err := introspect(ctx, ctx.Args().First())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	path, err := config.Save(cfgDir(ctx), rec)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Println(path)
	return nil
}

func unregisterCmd(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.NewExitError("unregister: provider library path is required", 1)
	}
	if err := config.Remove(cfgDir(ctx), ctx.Args().First()); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func cleanupCmd(ctx *cli.Context) error {
	if err := config.Cleanup(cfgDir(ctx)); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

// run is the server main loop: mount and serve until a signal arrives.
func run(ctx *cli.Context) error {

	logrus.Info("Initiating statefs ...")

	if ctx.NArg() != 1 {
		cli.ShowAppHelp(ctx)
		return cli.NewExitError("a single mountpoint argument is required", 1)
	}
	mountpoint := ctx.Args().First()

	dir := cfgDir(ctx)
	if err := config.EnsureDir(dir); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	mcfg, err := fuse.ParseMountOptions(ctx.GlobalString("o"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	// uid/gid drop happens before anything touches the mountpoint.
	if mcfg.Uid >= 0 {
		if err := unix.Setuid(mcfg.Uid); err != nil {
			return cli.NewExitError(fmt.Sprintf("setuid failed: %v", err), 1)
		}
	}
	if mcfg.Gid >= 0 {
		if err := unix.Setgid(mcfg.Gid); err != nil {
			return cli.NewExitError(fmt.Sprintf("setgid failed: %v", err), 1)
		}
	}
	if mcfg.HasUmask {
		vfs.SetUmask(mcfg.Umask)
	}

	logrus.Infof("FUSE dir = %s", mountpoint)
	logrus.Infof("Config dir = %s", dir)

	// Construct statefs services.
	var loaderRegistry = loader.NewRegistry()
	var root = vfs.NewRoot(loaderRegistry,
		func(cfgDir string, recv vfs.ConfigReceiver) (io.Closer, error) {
			return monitor.New(cfgDir, recv)
		})
	root.Init(dir)

	var fuseService = fuse.NewService(mountpoint, root, mcfg.MountOpts)

	// If requested, launch cpu/mem profiling collection.
	prof, err := runProfiler(ctx)
	if err != nil {
		logrus.Fatal(err)
	}

	// Launch exit handler (performs proper cleanup of statefs upon
	// receiving termination signals).
	var exitChan = make(chan os.Signal, 1)
	signal.Notify(
		exitChan,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)
	go exitHandler(exitChan, fuseService, prof)

	// A provider asking for a reload gets the whole daemon restarted by
	// the service manager.
	vfs.OnReloadRequest = func(provider string) {
		logrus.Warnf("Provider %v requested a reload, restarting ...", provider)
		exitChan <- syscall.SIGHUP
	}

	go func() {
		fuseService.InitWait()
		systemd.SdNotify(false, systemd.SdNotifyReady)
		logrus.Info("Ready ...")
	}()

	if err := fuseService.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	logrus.Info("Done.")
	return nil
}

// statefs main function
func main() {

	app := cli.NewApp()
	app.Name = "statefs"
	app.Usage = usage
	app.Version = version
	app.ArgsUsage = "<mountpoint>"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "statefs-config-dir",
			Value: "",
			Usage: "configuration directory (default: \"" + defaultCfgDir + "\")",
		},
		cli.StringFlag{
			Name:  "statefs-type",
			Value: "default",
			Usage: "loader kind used by dump/register",
		},
		cli.BoolFlag{
			Name:  "system",
			Usage: "use the system configuration directory (" + systemCfgDir + ")",
		},
		cli.StringFlag{
			Name:  "o",
			Value: "",
			Usage: "mount options; uid=, gid= and file_umask= (octal) are handled by statefs, the rest goes to FUSE",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output (default: \"\")",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	// show-version specialization.
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("statefs\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n",
			c.App.Version, commitId, builtAt)
	}

	app.Commands = []cli.Command{
		{
			Name:      "dump",
			Usage:     "emit canonical config for a provider library",
			ArgsUsage: "<lib>",
			Action:    dumpCmd,
		},
		{
			Name:      "register",
			Usage:     "write a provider config file into the config dir",
			ArgsUsage: "<lib>",
			Action:    registerCmd,
		},
		{
			Name:      "unregister",
			Usage:     "remove the config file for a provider library",
			ArgsUsage: "<lib>",
			Action:    unregisterCmd,
		},
		{
			Name:   "cleanup",
			Usage:  "drop config entries for libraries that no longer exist",
			Action: cleanupCmd,
		},
	}

	// Define 'debug' and 'log' settings.
	app.Before = func(ctx *cli.Context) error {

		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(
				path,
				os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC,
				0666,
			)
			if err != nil {
				logrus.Fatalf(
					"Error opening log file %v: %v. Exiting ...",
					path, err,
				)
				return err
			}
			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if logFormat := ctx.GlobalString("log-format"); logFormat == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
			})
		}

		switch logLevel := ctx.GlobalString("log-level"); logLevel {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			logrus.Fatalf(
				"log-level option '%v' not recognized. Exiting ...",
				logLevel,
			)
		}

		return nil
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
