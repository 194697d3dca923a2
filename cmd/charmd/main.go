// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command charmd runs a charm against the Kubernetes application it
// operates.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/juju/charmruntime/internal/agent"
)

var logger = loggo.GetLogger("charmruntime.cmd.charmd")

const defaultConfigPath = "/etc/charmruntime/agent.yaml"

type options struct {
	configPath string
	debug      bool
}

func parseArgs(args []string) (options, error) {
	var opts options
	f := gnuflag.NewFlagSet("charmd", gnuflag.ContinueOnError)
	f.StringVar(&opts.configPath, "config", defaultConfigPath, "path to the agent config file (YAML, or TOML with a .toml extension)")
	f.BoolVar(&opts.debug, "debug", false, "log at DEBUG level, overriding the logging config")
	if err := f.Parse(true, args); err != nil {
		return options{}, errors.Trace(err)
	}
	if f.NArg() > 0 {
		return options{}, errors.Errorf("unrecognized arguments: %q", f.Args())
	}
	if opts.configPath == "" {
		return options{}, errors.NotValidf("empty config path")
	}
	return opts, nil
}

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the daemon until it fails or receives SIGINT or SIGTERM, and
// returns the process exit code.
func Main(args []string) int {
	opts, err := parseArgs(args)
	if errors.Is(err, gnuflag.ErrHelp) {
		return 0
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "charmd: %v\n", err)
		return 2
	}
	cfg, err := agent.ReadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charmd: %v\n", err)
		return 1
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "charmd: %v\n", err)
		return 1
	}
	if opts.debug {
		loggo.GetLogger("").SetLogLevel(loggo.DEBUG)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *agent.Config) error {
	client, err := newK8sClient(cfg.KubeConfig())
	if err != nil {
		return errors.Trace(err)
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress())
	if err != nil {
		return errors.Annotatef(err, "listening on %q", cfg.ListenAddress())
	}
	d, err := newDaemon(daemonParams{
		Config:   cfg,
		Client:   client,
		Listener: listener,
		Clock:    clock.WallClock,
	})
	if err != nil {
		_ = listener.Close()
		return errors.Trace(err)
	}
	logger.Infof("operating application %q in namespace %q", cfg.Application(), cfg.Namespace())

	go func() {
		<-ctx.Done()
		logger.Infof("shutting down")
		d.Kill()
	}()
	return d.Wait()
}

// newK8sClient uses the kubeconfig file if one is given, and the in-cluster
// config otherwise.
func newK8sClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, errors.Annotate(err, "building Kubernetes client config")
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Annotate(err, "creating Kubernetes client")
	}
	return client, nil
}
