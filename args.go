package bpp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bpp-build/bpp/internal/ui"
)

// newRootCommand builds the command-line surface of a build binary.
// Flags mirror the engine contract; positional arguments are step
// names, and everything after "--" is exposed verbatim to the
// configure script.
func (b *Build) newRootCommand(configure func(*Build)) *cobra.Command {
	cmd := &cobra.Command{
		Use:           filepath.Base(b.argv[0]) + " [flags] [steps] [-- run-args]",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				b.requested = args[:dash]
				b.CLIArgs = args[dash:]
			} else {
				b.requested = args
			}
			for i, name := range b.requested {
				if name == "help" {
					b.reportHelp = true
					b.requested = append(b.requested[:i:i], b.requested[i+1:]...)
					break
				}
			}
			if len(b.requested) == 0 {
				b.reportHelp = true
			}
			ui.Configure(b.verbose, b.silent)
			return b.runPhases(configure)
		},
	}

	// Help needs the configure phase: the text lists declared options
	// and targets. Cobra's own renderer is replaced wholesale.
	cmd.SetHelpFunc(func(*cobra.Command, []string) {
		b.reportHelp = true
		ui.Configure(b.verbose, b.silent)
		if err := b.runPhases(configure); err != nil {
			ui.Errorf("%v", err)
			os.Exit(1)
		}
	})

	fl := cmd.Flags()
	fl.BoolVarP(&b.reportHelp, "help", "h", false, "Show this help message")
	fl.BoolVarP(&b.verbose, "verbose", "v", false, "Enable verbose output")
	fl.BoolVarP(&b.silent, "silent", "s", false, "Silent mode, suppress output except errors")
	fl.IntVarP(&b.Jobs, "jobs", "j", 0, "Set maximum parallel jobs (default: number of CPU cores)")
	fl.StringArrayVarP(&b.defines, "define", "D", nil, "Set a build option (-Dkey or -Dkey=value)")
	fl.BoolVar(&b.dumpCompileCommands, "dump-compile-commands", false, "Dump compile_commands.json file in root directory")
	fl.BoolVar(&b.exportSteps, "export-steps", false, "")
	fl.MarkHidden("export-steps")
	return cmd
}

// runPhases drives configure, plan and execute. Author mistakes inside
// configure surface as typed panics and become the command error.
func (b *Build) runPhases(configure func(*Build)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("build script panicked: %v", r)
		}
	}()

	if err := b.preConfigure(); err != nil {
		return err
	}
	configure(b)
	if err := b.postConfigure(); err != nil {
		return err
	}
	if b.exportSteps {
		return b.writeExportedSteps(os.Stdout)
	}
	return b.runBuild()
}

// printHelp renders the help text: engine flags, the option catalogue,
// run commands and declared targets.
func (b *Build) printHelp() {
	fmt.Printf("%s\n", ui.Bold(ui.Cyan("Build tool help:")))
	fmt.Printf("Usage: %s [flags] [steps] [-- run-args]\n", b.argv[0])

	fmt.Printf("%s\n", ui.Bold(ui.Cyan("Options:")))
	fmt.Printf("%s               Show this help message\n", ui.Magenta("  -h, --help"))
	fmt.Printf("%s             Silent mode, suppress output except errors\n", ui.Magenta("  -s, --silent"))
	fmt.Printf("%s            Enable verbose output\n", ui.Magenta("  -v, --verbose"))
	fmt.Printf("%s         Set maximum parallel jobs (default: number of CPU cores)\n", ui.Magenta("  -j, --jobs <num>"))
	fmt.Printf("%s  Dump compile_commands.json file in root directory\n", ui.Magenta("  --dump-compile-commands"))

	keys := make([]string, 0, len(b.options))
	for k := range b.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opt := b.options[k]
		if opt.Description != "" {
			fmt.Printf("%s :: %s\n", ui.Magenta("  -D"+opt.Key), opt.Description)
		} else {
			fmt.Printf("%s\n", ui.Magenta("  -D"+opt.Key))
		}
	}

	if len(b.runs) > 0 {
		fmt.Printf("%s\n", ui.Bold(ui.Cyan("Commands:")))
		for _, r := range b.runs {
			fmt.Printf("  %s :: %s\n", ui.Bold(r.opts.Name), r.opts.Desc)
		}
	}

	if len(b.exes) > 0 {
		fmt.Printf("%s\n", ui.Bold(ui.Cyan("Executables:")))
		for _, exe := range b.exes {
			info := fmt.Sprintf("(obj: %d)", len(exe.LinkStep.inputs))
			fmt.Printf("  %s :: %s %s\n", ui.Bold(exe.Opts.Name), exe.Opts.Desc, ui.Gray(info))
		}
	}

	if len(b.libs) > 0 {
		fmt.Printf("%s\n", ui.Bold(ui.Cyan("Libraries:")))
		for _, lib := range b.libs {
			kind := "(static)"
			if lib.Opts.Shared {
				kind = "(shared)"
			}
			info := fmt.Sprintf("%s (obj: %d)", kind, len(lib.LinkStep.inputs))
			fmt.Printf("  %s :: %s %s\n", ui.Bold(lib.Opts.Name), lib.Opts.Desc, ui.Gray(info))
		}
	}
}
