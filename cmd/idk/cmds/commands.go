package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/adbi/idk/pkg/cachereader"
	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/config"
	"github.com/adbi/idk/pkg/disasm"
	"github.com/adbi/idk/pkg/dwarf/op"
	"github.com/adbi/idk/pkg/logflags"
	"github.com/adbi/idk/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// useSymbols resolves function names of location specs through the
	// symbol table instead of the debug information.
	useSymbols bool
	// noColor disables colored source listings.
	noColor bool

	// overrides of the configuration file
	cacheSuffix    string
	rebuildStale   bool
	storeCache     bool
	exprCacheSize  int
	substitutePath []string

	forceBuild  bool
	funcPrefix  string
	insnCount   int
	goSyntax    bool
	watchSettle time.Duration

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const idkCommandLongDesc = `idk extracts the debug information of an ELF binary into a cache and
answers queries about it: source locations of addresses and addresses of
source locations, variables in scope, C declarations of data types and C
expressions locating variables, frame bases and call frame addresses.

The cache of a binary is stored next to it and rebuilt when the binary
changes. Every command takes the path of the binary as first argument.

Locations are given as:

	*<address>		a file offset
	<file>:<line>		the code of a source line
	<file>:<function>	a function defined in a source file
	<function>[+<offset>]	a function entry, plus a hexadecimal offset

A plain number is also accepted as a file offset.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:          "idk",
		Short:        "idk answers debug information queries about ELF binaries.",
		Long:         idkCommandLongDesc,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(log, logOutput, logDest); err != nil {
				return err
			}
			return applyFlags(cmd.Flags())
		},
	}
	rootCommand.SetOut(colorable.NewColorableStdout())

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'idk help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'idk help log').")

	rootCommand.PersistentFlags().StringVar(&cacheSuffix, "cache-suffix", conf.CacheSuffix, "Suffix appended to the binary path to name its cache.")
	rootCommand.PersistentFlags().BoolVar(&rebuildStale, "rebuild-stale", *conf.RebuildStale, "Rebuild a cache older than its binary.")
	rootCommand.PersistentFlags().BoolVar(&storeCache, "store-cache", *conf.StoreCache, "Write built caches to disk.")
	rootCommand.PersistentFlags().IntVar(&exprCacheSize, "expr-cache-size", conf.ExprCacheSize, "Number of frame base and CFA lookups to memoize.")
	rootCommand.PersistentFlags().StringArrayVar(&substitutePath, "substitute-path", nil, "Source path substitution rule from:to, may be repeated.")
	rootCommand.PersistentFlags().BoolVarP(&useSymbols, "symbols", "s", false, "Resolve function names through the symbol table.")
	rootCommand.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output.")

	buildCommand := &cobra.Command{
		Use:   "build binary...",
		Short: "Build the cache of binaries.",
		Long: `Builds the cache of each binary if it is missing or out of date and
prints a summary of its content. With --force the cache is always rebuilt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: buildCmd,
	}
	buildCommand.Flags().BoolVarP(&forceBuild, "force", "f", false, "Rebuild caches that are up to date.")
	rootCommand.AddCommand(buildCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "addr binary location",
		Short: "Print the file offset of a location.",
		Args:  cobra.ExactArgs(2),
		RunE: withReader(func(out io.Writer, r *cachereader.Reader, args []string) error {
			addr, err := resolve(r, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%#x\n", addr)
			return nil
		}),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "addr2line binary location...",
		Short: "Print the source location of file offsets.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  withReader(addr2lineCmd),
	})

	funcsCommand := &cobra.Command{
		Use:   "funcs binary",
		Short: "List functions.",
		Long: `Lists the functions of the binary with their code range and source
location. With --prefix only the names of the functions starting with the
prefix are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: withReader(funcsCmd),
	}
	funcsCommand.Flags().StringVarP(&funcPrefix, "prefix", "p", "", "Only list function names starting with prefix.")
	rootCommand.AddCommand(funcsCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "types binary [name]",
		Short: "List data types.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  withReader(typesCmd),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "define binary type",
		Short: "Print the C definition of a data type.",
		Long: `Prints the C declarations and definitions needed to define a data type,
in an order a C compiler accepts. The type is named as listed by 'types'
(e.g. "struct node") or by its id prefixed with '#'.`,
		Args: cobra.ExactArgs(2),
		RunE: withReader(defineCmd),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "vars binary",
		Short: "Print the C declarations of global variables.",
		Args:  cobra.ExactArgs(1),
		RunE:  withReader(varsCmd),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "locals binary location",
		Short: "Print the local variables in scope at a location.",
		Args:  cobra.ExactArgs(2),
		RunE:  withReader(localsCmd),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "expr binary location variable",
		Short: "Print C code reading a variable at a location.",
		Long: `Prints the declaration of a variable visible at a location, the C
statement copying its value out of the stopped program and a statement
dumping it with adbi_printf.`,
		Args: cobra.ExactArgs(3),
		RunE: withReader(exprCmd),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "frame binary location",
		Short: "Print the C expression of the frame base at a location.",
		Args:  cobra.ExactArgs(2),
		RunE: withReader(func(out io.Writer, r *cachereader.Reader, args []string) error {
			return printResult(out, r, args[0], r.FramePointer)
		}),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "cfa binary location",
		Short: "Print the C expression of the call frame address at a location.",
		Args:  cobra.ExactArgs(2),
		RunE: withReader(func(out io.Writer, r *cachereader.Reader, args []string) error {
			return printResult(out, r, args[0], r.CFA)
		}),
	})

	insnCommand := &cobra.Command{
		Use:   "insn binary location",
		Short: "Disassemble the code at a location.",
		Long: `Prints the instruction set of the code at a location and disassembles
instructions from there, never past the end of the instruction set range.`,
		Args: cobra.ExactArgs(2),
		RunE: withReader(insnCmd),
	}
	insnCommand.Flags().IntVarP(&insnCount, "count", "n", 1, "Number of instructions to disassemble.")
	insnCommand.Flags().BoolVar(&goSyntax, "go", false, "Use Go assembly syntax.")
	rootCommand.AddCommand(insnCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "traceable binary file",
		Short: "List a source file marking the lines with code.",
		Long: `Lists a source file, marking with an arrow the lines that have code and
printing the file offsets of that code. The source is read from the path
recorded in the debug information after applying the substitute-path
rules.`,
		Args: cobra.ExactArgs(2),
		RunE: withReader(traceableCmd),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "sections binary",
		Short: "List the sections of a binary.",
		Args:  cobra.ExactArgs(1),
		RunE:  withReader(sectionsCmd),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "symbols binary",
		Short: "List the symbols of a binary.",
		Args:  cobra.ExactArgs(1),
		RunE:  withReader(symbolsCmd),
	})

	watchCommand := &cobra.Command{
		Use:   "watch binary",
		Short: "Rebuild the cache of a binary whenever it changes.",
		Long: `Watches a binary and rebuilds its cache each time it is written, until
interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: watchCmd,
	}
	watchCommand.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "Time to wait for writes to settle before rebuilding.")
	rootCommand.AddCommand(watchCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "idk\n%s\nCache schema: %s\n", version.IdkVersion, cachestore.SchemaVersion)
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	builder		Log records skipped while building a cache
	store		Log cache freshness, rebuilds and table sizes
	reader		Log cache queries
	dwexpr		Log location expressions translated by 'expr'

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// applyFlags overrides the configuration with the flags set on the
// command line.
func applyFlags(flags *pflag.FlagSet) error {
	if flags.Changed("cache-suffix") {
		conf.CacheSuffix = cacheSuffix
	}
	if flags.Changed("rebuild-stale") {
		conf.RebuildStale = &rebuildStale
	}
	if flags.Changed("store-cache") {
		conf.StoreCache = &storeCache
	}
	if flags.Changed("expr-cache-size") {
		conf.ExprCacheSize = exprCacheSize
	}
	rules, err := parseSubstitutePath(substitutePath)
	if err != nil {
		return err
	}
	conf.SubstitutePath = append(conf.SubstitutePath, rules...)
	return nil
}

func parseSubstitutePath(args []string) (config.SubstitutePathRules, error) {
	var rules config.SubstitutePathRules
	for _, arg := range args {
		i := strings.Index(arg, ":")
		if i < 0 {
			return nil, fmt.Errorf("invalid substitute-path rule %q, expected from:to", arg)
		}
		rules = append(rules, config.SubstitutePathRule{From: arg[:i], To: arg[i+1:]})
	}
	return rules, nil
}

// withReader opens the cache of the binary named by the first argument
// and passes the remaining arguments to run.
func withReader(run func(out io.Writer, r *cachereader.Reader, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		r, err := cachereader.Load(args[0], conf)
		if err != nil {
			return err
		}
		defer r.Close()
		return run(cmd.OutOrStdout(), r, args[1:])
	}
}

// resolve returns the file offset of a location spec or a plain number.
func resolve(r *cachereader.Reader, spec string) (uint64, error) {
	if n, err := strconv.ParseUint(spec, 0, 64); err == nil {
		return n, nil
	}
	return r.GetAddr(spec, useSymbols)
}

func rebuild(bin string) error {
	c, err := cachereader.Build(bin)
	if err != nil {
		return err
	}
	if conf.StoreCache != nil && !*conf.StoreCache {
		return nil
	}
	return cachestore.Store(conf.CachePath(bin), c)
}

func summary(out io.Writer, bin string) error {
	r, err := cachereader.Load(bin, conf)
	if err != nil {
		return err
	}
	defer r.Close()
	files, err := r.Files()
	if err != nil {
		return err
	}
	types, err := r.Types()
	if err != nil {
		return err
	}
	fns, err := r.Functions()
	if err != nil {
		return err
	}
	vars, err := r.Variables()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d files, %d types, %d functions, %d variables\n",
		bin, len(files.All()), len(types), len(fns), len(vars))
	return nil
}

func buildCmd(cmd *cobra.Command, args []string) error {
	for _, bin := range args {
		if forceBuild {
			if err := rebuild(bin); err != nil {
				return fmt.Errorf("%s: %w", bin, err)
			}
		}
		if err := summary(cmd.OutOrStdout(), bin); err != nil {
			return fmt.Errorf("%s: %w", bin, err)
		}
	}
	return nil
}

func addr2lineCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	for _, arg := range args {
		addr, err := resolve(r, arg)
		if err != nil {
			return err
		}
		fnName := "??"
		if fn, err := r.FunctionAt(addr); err == nil {
			fnName = fn.Name
		}
		loc, err := r.Addr2Line(addr)
		if err != nil {
			var unknown *cachereader.UnknownLocationError
			if !errors.As(err, &unknown) {
				return err
			}
		}
		fmt.Fprintf(out, "%#x %s %s\n", addr, fnName, loc)
	}
	return nil
}

func funcsCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	if funcPrefix != "" {
		names, err := r.FunctionsWithPrefix(funcPrefix)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}
	fns, err := r.Functions()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for _, fn := range fns {
		fmt.Fprintf(w, "%#x\t%#x\t%s\t%s\n", fn.Lo, fn.Hi, fn.Name, fn.Loc)
	}
	return w.Flush()
}

func typesCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	var (
		types []*cachereader.DataType
		err   error
	)
	if len(args) > 0 {
		types, err = r.TypesByName(args[0])
	} else {
		types, err = r.Types()
	}
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for _, t := range types {
		fmt.Fprintf(w, "#%d\t%s\t%d\t%s\n", t.ID, t, t.ByteSize(), t.Loc)
	}
	return w.Flush()
}

// lookupType finds a type by name, or by id when name starts with '#'.
func lookupType(r *cachereader.Reader, name string) (*cachereader.DataType, error) {
	if strings.HasPrefix(name, "#") {
		id, err := strconv.ParseInt(name[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid type id %q", name)
		}
		return r.Type(id)
	}
	types, err := r.TypesByName(name)
	if err != nil {
		return nil, err
	}
	switch len(types) {
	case 0:
		return nil, &cachereader.UnknownLocationError{What: "type " + name}
	case 1:
		return types[0], nil
	}
	ids := make([]string, len(types))
	for i, t := range types {
		ids[i] = fmt.Sprintf("#%d", t.ID)
	}
	return nil, fmt.Errorf("type %s is ambiguous, candidates: %s", name, strings.Join(ids, ", "))
}

func defineCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	t, err := lookupType(r, args[0])
	if err != nil {
		return err
	}
	lines, err := t.Program()
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}

// printDeclaration prints the declaration of v followed by a comment.
func printDeclaration(out io.Writer, v *cachereader.Variable, comment string) {
	decl, err := v.Declaration("")
	if err != nil {
		fmt.Fprintf(out, "// %s: %v\n", v.Name, err)
		return
	}
	if comment != "" {
		decl[len(decl)-1] += "   // " + comment
	}
	for _, l := range decl {
		fmt.Fprintln(out, l)
	}
}

func varsCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	vars, err := r.Globals()
	if err != nil {
		return err
	}
	for _, v := range vars {
		printDeclaration(out, v, v.Loc.String())
	}
	return nil
}

func localsCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	addr, err := resolve(r, args[0])
	if err != nil {
		return err
	}
	vars, err := r.LocalsAt(addr)
	if err != nil {
		return err
	}
	for _, v := range vars {
		comment := "optimized out"
		if res, err := v.Eval(addr); err == nil {
			comment = res.Expr
		}
		printDeclaration(out, v, comment)
	}
	return nil
}

func exprCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	addr, err := resolve(r, args[0])
	if err != nil {
		return err
	}
	v, err := r.LookupVariable(addr, args[1])
	if err != nil {
		return err
	}
	if logflags.DWExpr() {
		if expr, ok := v.Expression(addr); ok {
			var buf strings.Builder
			op.PrettyPrint(&buf, expr, r.PtrSize())
			logflags.DWExprLogger().Debugf("%s at %#x: %s", v.Name, addr, buf.String())
		}
	}
	res, err := v.Eval(addr)
	if err != nil {
		return err
	}

	name := cachereader.ToIdentifier(v.Name)
	if cachereader.IsIdentifier(v.Name) {
		name = v.Name
	}
	decl, err := v.Declaration(name)
	if err != nil {
		return err
	}
	for _, l := range decl {
		fmt.Fprintln(out, l)
	}
	fmt.Fprintln(out, res.Assign(name, v.Type.Scalar(), ""))
	fmt.Fprintln(out, v.Type.PrintfStatement(name))

	if res.UsesFrame {
		if fb, err := r.FramePointer(addr); err == nil {
			fmt.Fprintf(out, "// %s = %s\n", op.FrameBaseSymbol, fb.Expr)
		}
	}
	if res.UsesCFA {
		if cfa, err := r.CFA(addr); err == nil {
			fmt.Fprintf(out, "// %s = %s\n", op.CFASymbol, cfa.Expr)
		}
	}
	return nil
}

func printResult(out io.Writer, r *cachereader.Reader, spec string, eval func(uint64) (op.Result, error)) error {
	addr, err := resolve(r, spec)
	if err != nil {
		return err
	}
	res, err := eval(addr)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Expr)
	return nil
}

func insnCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	addr, err := resolve(r, args[0])
	if err != nil {
		return err
	}
	rg, err := r.InsnKind(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s [%#x, %#x)\n", rg.Kind, rg.Lo, rg.Hi)
	if rg.Kind == cachestore.InsnData || insnCount <= 0 {
		return nil
	}

	hi := addr + uint64(4*insnCount)
	if hi > rg.Hi {
		hi = rg.Hi
	}
	f, err := os.Open(r.BinaryPath())
	if err != nil {
		return err
	}
	defer f.Close()
	insts, err := disasm.Disassemble(f, rg.Kind, addr, hi)
	if err != nil {
		return err
	}

	flavour := disasm.GNUFlavour
	if goSyntax {
		flavour = disasm.GoFlavour
	}
	symLookup := func(addr uint64) (string, uint64) {
		fn, err := r.FunctionAt(addr)
		if err != nil {
			return "", 0
		}
		return fn.Name, fn.Lo
	}
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for i := range insts {
		inst := &insts[i]
		fmt.Fprintf(w, "%#x\t% x\t%s", inst.Offset, inst.Bytes, inst.Text(flavour, symLookup))
		if inst.HasTarget {
			if name, lo := symLookup(inst.Target); name != "" {
				fmt.Fprintf(w, "\t<%s+%#x>", name, inst.Target-lo)
			}
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func traceableCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	files, err := r.Files()
	if err != nil {
		return err
	}
	path, err := files.Expand(args[0])
	if err != nil {
		return err
	}
	lines, err := r.TraceableLines(path)
	if err != nil {
		return err
	}
	marks := make(map[int][]uint64)
	for _, l := range lines {
		marks[l.Line] = append(marks[l.Line], l.Addr)
	}

	src, err := os.Open(files.Local(path))
	if err != nil {
		// no source, list the lines only
		for _, l := range lines {
			fmt.Fprintf(out, "%s:%d\t%#x\n", files.Simplify(path), l.Line, l.Addr)
		}
		return nil
	}
	defer src.Close()
	color := !noColor && isatty.IsTerminal(os.Stdout.Fd())
	return printSource(out, src, marks, color)
}

func sectionsCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	secs, err := r.Sections()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintln(w, "name\ttype\taddr\toffset\tsize\tflags")
	for _, s := range secs {
		fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%#x\t%s\n", s.Name, s.Type, s.Addr, s.Offset, s.Size, s.Flags)
	}
	return w.Flush()
}

func symbolsCmd(out io.Writer, r *cachereader.Reader, args []string) error {
	syms, err := r.Symbols()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for _, s := range syms {
		fmt.Fprintf(w, "%#x\t%d\t%s\t%s\t%s\n", s.Value, s.Size, s.Type, s.Bind, s.Name)
	}
	return w.Flush()
}

func watchCmd(cmd *cobra.Command, args []string) error {
	bin := args[0]
	out := cmd.OutOrStdout()
	if err := summary(out, bin); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return watch(ctx, bin, watchSettle, func() error {
		if err := rebuild(bin); err != nil {
			return err
		}
		return summary(out, bin)
	})
}
