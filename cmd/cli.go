package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluetuith-org/auto-connect/config"
	"github.com/bluetuith-org/auto-connect/liveness"
	"github.com/bluetuith-org/auto-connect/policy"
	"github.com/bluetuith-org/auto-connect/radio/bluez"
	"github.com/bluetuith-org/auto-connect/settings"
	"github.com/godbus/dbus/v5"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// These values are set at compile-time.
var (
	Version  = ""
	Revision = ""
)

// Run runs the commandline application.
func Run() error {
	return newApp().Run(os.Args)
}

// newApp returns a new commandline application.
func newApp() *cli.App {
	cli.VersionPrinter = func(cCtx *cli.Context) {
		fmt.Fprintf(cCtx.App.Writer, "%s (%s)\n", Version, Revision)
	}

	return &cli.App{
		Name:                   "auto-connect",
		Usage:                  "Bluetooth auto-connection daemon.",
		Version:                Version + " (" + Revision + ")",
		Description:            "A daemon that automatically connects bonded Bluetooth devices per profile.",
		Copyright:              "(c) bluetuith-org.",
		Compiled:               time.Now(),
		EnableBashCompletion:   true,
		UseShortOptionHandling: true,
		Suggest:                true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "adapter",
				Aliases: []string{"a"},
				EnvVars: []string{"AUTO_CONNECT_ADAPTER"},
				Usage:   "Specify an adapter to use. (For example, hci0)",
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Aliases: []string{"d"},
				EnvVars: []string{"AUTO_CONNECT_STATE_DIR"},
				Usage:   "Specify a directory to store per-user device lists in.",
			},
			&cli.StringFlag{
				Name:    "connect-timeout",
				Aliases: []string{"t"},
				EnvVars: []string{"AUTO_CONNECT_TIMEOUT"},
				Usage:   "Specify a per-attempt connection timeout. (For example, '8s')",
			},
			&cli.IntFlag{
				Name:    "user",
				Aliases: []string{"u"},
				EnvVars: []string{"AUTO_CONNECT_USER"},
				Usage:   "Specify the initially active user.",
			},
			&cli.BoolFlag{
				Name:    "generate",
				Aliases: []string{"g"},
				Usage:   "Generate configuration.",
				Action: func(cliCtx *cli.Context, _ bool) error {
					k := koanf.New(".")

					cliCtx.Command.Name = "global"

					conf := config.NewConfig()
					if err := conf.Load(k, cliCtx); err != nil {
						return err
					}

					return conf.GenerateAndSave(k)
				},
			},
		},
		Action: func(cliCtx *cli.Context) error {
			if cliCtx.Bool("generate") {
				return nil
			}

			// required for koanf to merge all global flags under the root namespace.
			cliCtx.Command.Name = "global"

			k, cfg := koanf.New("."), config.NewConfig()
			if err := cfg.Load(k, cliCtx); err != nil {
				return err
			}
			if err := cfg.ValidateValues(); err != nil {
				return err
			}

			return runDaemon(cfg)
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}

			printError(err)
		},
	}
}

// runDaemon wires the policy to the system bus and runs it until a
// termination signal arrives. SIGUSR1 dumps the policy state.
func runDaemon(cfg *config.Config) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	proxy, err := bluez.NewProxy(conn, cfg.Values.Adapter)
	if err != nil {
		return err
	}

	watcher, err := bluez.NewWatcher(conn, proxy)
	if err != nil {
		return err
	}

	deaths, err := liveness.NewDbusWatcher(conn)
	if err != nil {
		return err
	}
	defer deaths.Close()

	store, err := settings.NewFileStore(cfg.Values.StateDir)
	if err != nil {
		return err
	}

	p := policy.NewPolicy(policy.Config{
		Proxy:          proxy,
		Store:          store,
		Watcher:        deaths,
		User:           cfg.Values.User,
		ConnectTimeout: cfg.Values.ConnectTimeoutDuration,
	})

	errorSub, ok := policy.Errors().Subscribe()
	if ok {
		go func() {
			for policyErr := range errorSub.C {
				printError(policyErr)
			}
		}()
	}

	p.Start()
	defer p.Stop()

	var group errgroup.Group

	group.Go(watcher.Run)
	group.Go(func() error {
		term := make(chan os.Signal, 1)
		dump := make(chan os.Signal, 1)

		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		signal.Notify(dump, syscall.SIGUSR1)

		for {
			select {
			case <-dump:
				fmt.Print(p.Dump())

			case <-term:
				watcher.Stop()
				return nil
			}
		}
	})

	printInfo("auto-connect is running on adapter " + cfg.Values.Adapter)

	err = group.Wait()

	if store.Disabled() {
		printWarn("settings persistence was disabled after a storage failure; device lists were kept in memory only")
	}

	if errorSub != nil {
		errorSub.Unsubscribe()
	}

	return err
}
