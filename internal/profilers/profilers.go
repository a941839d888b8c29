// Package profilers sets up the optional profiling of the trainer.
//
// If linked, it will install the profiler flags: -prof (HTTP pprof server), -cpu_profile and
// -mem_profile.
package profilers

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"

	"k8s.io/klog/v2"
)

var (
	flagProfiler   = flag.Int("prof", -1, "If set, runs the HTTP profiler at the given port.")
	flagCPUProfile = flag.String("cpu_profile", "", "write cpu profile to `file`")
	flagMemProfile = flag.String("mem_profile", "", "write heap profile to `file` on exit")
	profilerAddr   string
	cpuProfileFile *os.File

	// globalCtx is set on the call to Setup.
	globalCtx context.Context
)

// Setup starts the HTTP (flag -prof) and CPU profilers (flag -cpu_profile), if they were configured.
// You should follow with a deferred call to OnQuit.
func Setup(ctx context.Context) {
	globalCtx = ctx
	if *flagProfiler >= 0 {
		setupHTTPProfiler()
	}
	if *flagCPUProfile != "" {
		createCPUProfile()
	}
}

// OnQuit should be called before the exit of the main() function, typically this is setup as a deferred call
// just after Setup.
func OnQuit() {
	if cpuProfileFile != nil {
		pprof.StopCPUProfile()
		if err := cpuProfileFile.Close(); err != nil {
			klog.Errorf("Failed to close CPU profile %q: %v", *flagCPUProfile, err)
		}
		cpuProfileFile = nil
	}
	if *flagMemProfile != "" {
		writeHeapProfile()
	}
	if *flagProfiler >= 0 {
		httpProfilerOnQuit()
	}
}

// createCPUProfile creates the file pointed by *flagCPUProfile and starts the CPU profiling there.
func createCPUProfile() {
	f, err := os.Create(*flagCPUProfile)
	if err != nil {
		klog.Fatal("could not create CPU profile: ", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		klog.Fatal("could not start CPU profile: ", err)
	}
	cpuProfileFile = f
}

func writeHeapProfile() {
	f, err := os.Create(*flagMemProfile)
	if err != nil {
		klog.Errorf("could not create heap profile: %v", err)
		return
	}
	defer func() { _ = f.Close() }()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		klog.Errorf("could not write heap profile: %v", err)
	}
}

// setupHTTPProfiler starts the profiler if it was enabled by the -prof flag.
func setupHTTPProfiler() {
	profilerAddr = fmt.Sprintf("localhost:%d", *flagProfiler)
	fmt.Printf("Starting profiler on %s/debug/pprof\n", profilerAddr)
	fmt.Printf("- You can access it with: $ go tool pprof %s/debug/pprof/heap\n", profilerAddr)
	fmt.Printf("- Program will be kept alive on end, you will have to interrupt it (Ctrl+C) to exit\n")
	go func() {
		klog.Fatal(http.ListenAndServe(profilerAddr, nil))
	}()
}

// httpProfilerOnQuit keeps the program alive until interrupted, so the profiler can still be
// inspected after the training finished.
func httpProfilerOnQuit() {
	// Don't freeze on panic.
	if err := recover(); err != nil {
		panic(err)
	}
	if globalCtx.Err() != nil {
		// Already interrupted.
		return
	}

	// Garbage collect, to see if there is anything leaking.
	for range 10 {
		runtime.GC()
	}
	fmt.Printf("- Training finished: kept alive with profiler opened at %s/debug/pprof\n", profilerAddr)
	fmt.Printf("- Interrupt (Ctrl+C) to exit\n")
	<-globalCtx.Done()
	fmt.Printf("... exiting ...\n")
}
