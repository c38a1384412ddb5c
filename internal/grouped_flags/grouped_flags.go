// Package grouped_flags provides a small wrapper around the flag package
// to allow grouping flags in the help output. Flags which are not passed on
// the command line can be read from environment variables.
// Please see the example for more details.
package grouped_flags

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/jnovack/flag"
)

type flagGroup struct {
	name  string
	flags *flag.FlagSet
}

type FlagGroupSet struct {
	envPrefix string
	groups    []flagGroup
	allFlags  *flag.FlagSet
}

func NewFlagGroupSet(errorHandling flag.ErrorHandling) *FlagGroupSet {
	return NewFlagGroupSetWithEnvPrefix("", errorHandling)
}

// NewFlagGroupSetWithEnvPrefix creates a set whose flags can also be set using
// environment variables. The flag -base-path is read from <prefix>_BASE_PATH.
// The command line takes precedence over the environment.
func NewFlagGroupSetWithEnvPrefix(prefix string, errorHandling flag.ErrorHandling) *FlagGroupSet {
	f := &FlagGroupSet{
		envPrefix: prefix,
		groups:    make([]flagGroup, 0),
		allFlags:  flag.NewFlagSetWithEnvPrefix(os.Args[0], prefix, errorHandling),
	}

	f.allFlags.Usage = f.Usage

	return f
}

func (f *FlagGroupSet) AddGroup(name string, constructor func(*flag.FlagSet)) {
	// Construct an empty flag set
	groupFlagSet := flag.NewFlagSet("", flag.PanicOnError)

	// Pass it to the callback, which populates it with the flags for this group
	constructor(groupFlagSet)

	// Add the flags to the combined flag set, which is used for parsing
	groupFlagSet.VisitAll(func(fl *flag.Flag) {
		f.allFlags.Var(fl.Value, fl.Name, fl.Usage)
	})

	f.groups = append(f.groups, flagGroup{
		name,
		groupFlagSet,
	})
}

func (f *FlagGroupSet) Parse() error {
	return f.ParseArgs(os.Args[1:])
}

// ParseArgs parses the passed arguments followed by the environment.
func (f *FlagGroupSet) ParseArgs(args []string) error {
	return f.allFlags.Parse(args)
}

func (f *FlagGroupSet) SetOutput(output io.Writer) {
	f.allFlags.SetOutput(output)
}

func (f *FlagGroupSet) Usage() {
	output := f.allFlags.Output()

	// Print name of program
	fmt.Fprintf(output, "Usage of %s:\n\n", f.allFlags.Name())
	if f.envPrefix != "" {
		fmt.Fprintf(output, "Every flag can also be set using an environment variable, e.g. %s_HOST for -host.\n\n", f.envPrefix)
	}

	for _, group := range f.groups {
		// Print name of group
		fmt.Fprintf(output, "%s:\n", group.name)

		// Write flag description into buffer and then print
		buf := new(bytes.Buffer)
		group.flags.SetOutput(buf)
		group.flags.PrintDefaults()

		fmt.Fprintln(output, buf.String())
	}
}
