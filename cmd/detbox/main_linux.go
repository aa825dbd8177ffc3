package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/detbox/go-detbox/handler"
	"github.com/detbox/go-detbox/pkg/rlimit"
	"github.com/detbox/go-detbox/pkg/seccomp/libseccomp"
	"github.com/detbox/go-detbox/ptracer"
	"github.com/detbox/go-detbox/runner"
	"github.com/detbox/go-detbox/tracee"
)

var (
	debugLevel    int
	workPath      string
	cpuLimit      uint64
	fileSizeLimit uint64
	legacyKernel  bool
	args          []string
)

func main() {
	flag.Usage = printUsage
	flag.IntVar(&debugLevel, "debug", envInt("DETBOX_DEBUG"), "Set debug level (0 quiet)")
	flag.StringVar(&workPath, "work-path", "", "Set the work path of the program")
	flag.Uint64Var(&cpuLimit, "cpu", 0, "Set CPU time rlimit (in second, 0 unlimited)")
	flag.Uint64Var(&fileSizeLimit, "fsize", 0, "Set file size rlimit (in byte, 0 unlimited)")
	flag.BoolVar(&legacyKernel, "legacy-seccomp", false, "Track syscall phase in the supervisor (kernel < 4.8)")
	flag.Parse()

	args = flag.Args()
	if len(args) == 0 {
		printUsage()
	}

	log, err := newLogger(debugLevel)
	if err != nil {
		os.Exit(125)
	}
	defer log.Sync()
	sugar := log.Sugar()

	rt, err := start(sugar)
	if err != nil {
		sugar.Errorw("run failed", "err", err)
		os.Exit(125)
	}
	sugar.Debugw("run finished", "result", rt.String())
	os.Exit(rt.ExitCode())
}

func start(log *zap.SugaredLogger) (runner.Result, error) {
	factory, err := handler.NewFactory()
	if err != nil {
		return runner.Result{Status: runner.StatusRunnerError}, err
	}

	b := libseccomp.Builder{Trace: handler.TracedSyscalls()}
	filter, err := b.Build()
	if err != nil {
		return runner.Result{Status: runner.StatusRunnerError}, err
	}

	limits := rlimit.RLimits{
		CPU:         cpuLimit,
		FileSize:    fileSizeLimit,
		DisableCore: true,
	}
	log.Debugw("tracee limits", "rlimits", limits.String())

	ch := &tracee.Runner{
		Args:    args,
		Env:     os.Environ(),
		Files:   []uintptr{0, 1, 2},
		WorkDir: workPath,
		RLimits: limits.PrepareRLimit(),
		Filter:  filter,
	}

	g := ptracer.NewGlobal(log)
	tr := &ptracer.Tracer{
		Runner:        ch,
		Factory:       factory,
		Global:        g,
		Debug:         debugLevel,
		LegacySeccomp: legacyKernel,
	}

	c, cancel := context.WithCancel(context.Background())
	defer cancel()

	// kill the whole tracee tree if the supervisor is asked to stop
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	rt := <-tr.Trace(c)

	cnt := g.Counters
	log.Debugw("virtualization summary",
		"readRetries", cnt.ReadRetries,
		"writeRetries", cnt.WriteRetries,
		"getRandomCalls", cnt.GetRandomCalls,
		"devUrandomOpens", cnt.DevUrandomOpens,
		"devRandomOpens", cnt.DevRandomOpens,
		"timeCalls", cnt.TimeCalls,
		"blockingReplays", cnt.BlockingReplays,
		"totalReplays", cnt.TotalReplays,
		"injectedCalls", cnt.InjectedCalls,
	)
	return rt, nil
}

// newLogger builds the run logger: chatty development output when debugging,
// errors only otherwise. DETBOX_LOG redirects the destination.
func newLogger(debug int) (*zap.Logger, error) {
	var cfg zap.Config
	if debug > 0 {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	out := os.Getenv("DETBOX_LOG")
	if out == "" {
		out = "stderr"
	}
	cfg.OutputPaths = []string{out}
	cfg.ErrorOutputPaths = []string{out}
	return cfg.Build()
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}
