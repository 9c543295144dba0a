// motion-trace runs a G-code program through the planner offline and
// prints the resulting stepper segments. No wall-clock pacing: segments
// execute as fast as the planner produces them, which makes the tool
// useful for profiling a program's motion without hardware.
//
// Usage:
//
//	motion-trace [-config machine.cfg] [-q] [file.gcode]
//
// With no file the program is read from stdin. The segment trace goes to
// stdout (one line per segment); the summary goes to stderr. -q
// suppresses the trace and prints the summary only.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/gcode"
	"tinyg-go-migration/pkg/kinematics"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/stepper"
)

func main() {
	configFile := flag.String("config", "", "Machine configuration file")
	quiet := flag.Bool("q", false, "Suppress the segment trace")
	flag.Parse()

	mp := config.DefaultMachineProfile()
	if *configFile != "" {
		loaded, err := config.LoadMachineProfile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
		mp = loaded
	}

	var input io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		input = f
	}

	logger := log.New("trace")
	logger.SetLevel(log.WARN)

	recorder := &stepper.Recorder{}
	var backend stepper.StepBackend = recorder
	if !*quiet {
		backend = &teeBackend{recorder, &stepper.StreamBackend{W: os.Stdout}}
	}
	engine := stepper.New(backend, logger)

	kin, err := kinematics.New(mp.Motors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	plan := planner.New(mp.Planner, kin, engine, logger)
	machine := canon.New(plan, logger)
	exec := gcode.NewExecutor(machine, logger)

	run := func() error {
		for {
			if _, err := plan.ArcCallback(); err != nil {
				return err
			}
			res, err := plan.ExecMove()
			if err != nil {
				return err
			}
			if _, err := engine.Run(); err != nil {
				return err
			}
			if res == planner.ExecIdle && !plan.IsBusy() && !engine.Busy() {
				return nil
			}
		}
	}

	scanner := bufio.NewScanner(input)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		for {
			err := exec.ProcessLine(line)
			if err == nil {
				break
			}
			if errors.IsCode(err, errors.ErrBufferFull) {
				// Queue full: drain some motion and retry the line.
				if err := run(); err != nil {
					fmt.Fprintf(os.Stderr, "line %d: %v\n", lineno, err)
					os.Exit(1)
				}
				continue
			}
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineno, err)
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "segments: %d\n", len(recorder.Segments))
	fmt.Fprintf(os.Stderr, "motion time: %.3f s\n", recorder.TotalMicroseconds()/1e6)
	for i := 0; i < kinematics.NumMotors; i++ {
		fmt.Fprintf(os.Stderr, "motor %d: %d steps\n", i+1, recorder.NetSteps(i))
	}
	for i := 0; i < kinematics.NumAxes; i++ {
		fmt.Fprintf(os.Stderr, "%s: %.4f\n", kinematics.AxisNames[i], plan.RuntimePosition(i))
	}
}

// teeBackend records segments and streams them at the same time.
type teeBackend struct {
	rec    *stepper.Recorder
	stream *stepper.StreamBackend
}

func (t *teeBackend) ExecuteSegment(seg stepper.Segment) error {
	if err := t.rec.ExecuteSegment(seg); err != nil {
		return err
	}
	return t.stream.ExecuteSegment(seg)
}
