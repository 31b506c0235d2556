package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/moby/sys/reexec"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/host"
	"github.com/platinummonkey/hubcap/pkg/inspector"
)

const (
	workerName = "hubcap-inspect-worker"
	reportFD   = 3
)

// Worker exit codes.
const (
	exitUsage  = 2
	exitLoad   = 3
	exitReport = 4
)

func init() {
	reexec.Register(workerName, func() {
		os.Exit(runWorker(os.Args[1:]))
	})
}

// Init runs the inspection worker when the current process was started as one, and reports
// whether it did. A true result means the caller must return immediately.
func Init() bool {
	return reexec.Init()
}

func runWorker(args []string) int {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)

	if len(args) != 1 {
		log.Errorf("inspection worker expects one module path, got %d arguments", len(args))
		return exitUsage
	}
	path := args[0]

	out := os.NewFile(reportFD, "report")
	if out == nil {
		log.Error("inspection worker started without a report descriptor")
		return exitUsage
	}
	defer out.Close()

	// Module output must never reach the report stream.
	os.Stdout = os.Stderr

	h := host.New(host.WithLogger(log))
	m, err := h.Load(context.Background(), path)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to load module")
		return exitLoad
	}

	report := inspector.Inspect(path, m)
	if err := json.NewEncoder(out).Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		return exitReport
	}
	return 0
}
