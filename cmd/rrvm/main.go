// Command rrvm assembles and runs RRVM bytecode, or lowers it to
// three-address code for the mechanical re-lifting pipeline.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elias-michaias/rrvm/asm"
	"github.com/elias-michaias/rrvm/tac"
	"github.com/elias-michaias/rrvm/vm"
)

// exitError carries the process exit code a command should terminate with
// (spec.md §6.1: 0 success, 1 parse error, 2 argument error).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func argError(format string, a ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, a...)}
}

func parseError(err error) error {
	return &exitError{code: 1, err: err}
}

func openSource(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, argError("open %s: %w", path, err)
	}
	return f, nil
}

func assembleFile(path string) ([]vm.Word, map[int]string, error) {
	r, err := openSource(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	code, debugSym, err := asm.Assemble(r)
	if err != nil {
		return nil, nil, parseError(err)
	}
	return code, debugSym, nil
}

func newRunCmd() *cobra.Command {
	var debugMode bool

	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Assemble and interpret an RRVM program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, debugSym, err := assembleFile(args[0])
			if err != nil {
				return err
			}

			v := vm.NewVM(code, debugSym)
			it := vm.NewInterpreter()

			if debugMode {
				return vm.RunProgramDebugMode(v, it, os.Stdin, cmd.OutOrStdout())
			}
			if err := vm.RunProgram(v, it); err != nil {
				return &exitError{code: 1, err: err}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debugMode, "debug", false, "single-step through execution")
	return cmd
}

func newTacCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "tac <file|->",
		Short: "Lower an RRVM program to three-address code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, debugSym, err := assembleFile(args[0])
			if err != nil {
				return err
			}

			v := vm.NewVM(code, debugSym)
			l := tac.NewLowerer()
			if err := vm.Dispatch(v, l); err != nil {
				return &exitError{code: 1, err: err}
			}

			base := "stdin"
			if args[0] != "-" {
				base = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			if outDir == "" {
				outDir = filepath.Join("opt", "tmp", "raw")
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return argError("create %s: %w", outDir, err)
			}

			outPath := filepath.Join(outDir, base+".pl")
			f, err := os.Create(outPath)
			if err != nil {
				return argError("create %s: %w", outPath, err)
			}
			defer f.Close()

			if err := tac.Serialize(f, l.Program()); err != nil {
				return &exitError{code: 1, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write the .pl file to (default opt/tmp/raw)")
	return cmd
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rrvm",
		Short:         "RRVM: a tape-and-stack VM that doubles as a compile target",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newTacCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		var fault *vm.Fault
		if errors.As(err, &fault) {
			os.Exit(1)
		}
		// Anything else comes from cobra's own argument and flag checks.
		os.Exit(2)
	}
}
