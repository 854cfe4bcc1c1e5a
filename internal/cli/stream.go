package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/stream-fusion/internal/fusion"
	"github.com/rcliao/stream-fusion/internal/metrics"
	"github.com/rcliao/stream-fusion/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Handle stdin line by line until EOF or interrupt",
		Long: "Read inputs from stdin one line at a time and print one result per line as each finishes. " +
			"The fast-path aggregator and the decay sweep run for the lifetime of the command.",
		Run: runStream,
	}

	cmd.Flags().Bool("force", false, "Always run the slow path")
	cmd.Flags().Bool("metrics", false, "Print metrics in the Prometheus text format to stderr on exit")

	RootCmd.AddCommand(cmd)
}

// streamed is one output line: the outcome plus fusion records made close
// enough in time to bind with it.
type streamed struct {
	pipeline.Outcome
	Nearby []nearbyRecord `json:"nearby,omitempty"`
}

type nearbyRecord struct {
	ID     string  `json:"id"`
	Input  string  `json:"input"`
	Weight float64 `json:"weight"`
}

func runStream(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	printMetrics, _ := cmd.Flags().GetBool("metrics")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt := mustRuntime(ctx)
	defer rt.Close()

	reg, rec, err := metrics.NewRegistry(rt.orch)
	if err != nil {
		exitErr("metrics", err)
	}

	var meta map[string]any
	if force {
		meta = map[string]any{"force": true}
	}

	streamErr := streamInputs(ctx, rt, os.Stdin, os.Stdout, rec, meta)

	// the snapshot is written even when interrupted
	if err := rt.save(context.WithoutCancel(ctx)); err != nil {
		exitErr("stream", err)
	}
	if printMetrics {
		if err := metrics.WriteText(os.Stderr, reg); err != nil {
			exitErr("metrics", err)
		}
	}
	if streamErr != nil {
		exitErr("stream", streamErr)
	}
}

// streamInputs handles each non-empty line of r concurrently while the
// orchestrator's background loops run, writing results to w in completion
// order. It returns once r is exhausted and every input has been handled.
func streamInputs(ctx context.Context, rt *runtime, r io.Reader, w io.Writer, rec *metrics.Recorder, meta map[string]any) error {
	runCtx, stopRun := context.WithCancel(ctx)
	var bg errgroup.Group
	bg.Go(func() error { return rt.orch.Run(runCtx) })

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		// may stay blocked in Read after an interrupt until the process exits
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				close(lines)
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	var (
		handlers errgroup.Group
		mu       sync.Mutex
	)
read:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break read
			}
			handlers.Go(func() error {
				out := rt.orch.Handle(ctx, line, meta)
				rec.Observe(out)
				s := streamed{Outcome: out, Nearby: nearby(rt.fuser, out)}

				mu.Lock()
				defer mu.Unlock()
				return writeStreamed(w, s)
			})
		case <-ctx.Done():
			break read
		}
	}
	var err error
	select {
	case err = <-scanErr:
	default:
	}
	err = errors.Join(err, handlers.Wait())

	stopRun()
	if runErr := bg.Wait(); runErr != nil && !errors.Is(runErr, context.Canceled) {
		err = errors.Join(err, runErr)
	}
	return err
}

// nearby lists the other buffered fusion records that bind temporally with
// out's fusion, strongest first.
func nearby(c *fusion.Coordinator, out pipeline.Outcome) []nearbyRecord {
	if out.Fusion == nil {
		return nil
	}
	var res []nearbyRecord
	for _, wr := range c.Nearby(out.Fusion.CreatedAt) {
		if wr.Record.ID == out.Fusion.ID || wr.Weight <= 0 {
			continue
		}
		res = append(res, nearbyRecord{ID: wr.Record.ID, Input: wr.Record.Input, Weight: wr.Weight})
	}
	return res
}

func writeStreamed(w io.Writer, s streamed) error {
	if formatFlag == "text" {
		_, err := fmt.Fprintln(w, s.Response)
		return err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
