// Command treeq is a single-pass streaming query engine over
// semi-structured hierarchical records.
//
// It auto-detects the input dialect (tag tree, nested objects, delimited
// table, timestamped log lines, or Parquet), normalizes it to a common
// tree, and evaluates a query expressed as a sequence of column
// arguments:
//
//	treeq id c in[data.xml]
//	treeq category sum[sales] 'where[sales>15]' < data.csv
//	treeq k sum[v] 'sort[-sum[v]]' 'top[1]' in[data.xml]
//	treeq id v join::label join[other.csv] 'where[id==join::id]' in[main.csv]
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/fatih/color"

	"github.com/treeq/treeq/output"
)

var formatFlag = flag.String("f", "csv", "Output format: csv, table")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <column-spec>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "A streaming query engine over XML, JSON, CSV/TSV, log, and Parquet input.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nRun '%s help[]' for the query language reference.\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(-1)
	}

	var formatter output.Formatter
	switch *formatFlag {
	case "csv":
		formatter = output.NewCSVFormatter(os.Stdout, true)
	case "table":
		formatter = output.NewTableFormatter(os.Stdout, true)
	default:
		die(fmt.Errorf("unknown output format: %s", *formatFlag))
	}

	d := newDriver(formatter)
	if err := d.readColumnSpecs(flag.Args()); err != nil {
		die(err)
	}

	// Control-C ends the current pass as a normal stop; buffered output
	// still flushes.
	var cancelled atomic.Bool
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		<-interrupts
		cancelled.Store(true)
	}()
	d.parser.Context().Cancelled = cancelled.Load

	if err := d.run(); err != nil {
		die(err)
	}
}

func die(err error) {
	color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
	os.Exit(-1)
}

// printUsage writes the query language reference (the help directive).
func printUsage(w io.Writer) {
	fmt.Fprint(w, `treeq evaluates a sequence of column arguments against tree-shaped input.

Each argument is either an expression or name[,name,...]:expression.
Names may be brace-quoted ({...}) to escape punctuation. An argument
that begins or ends with @ names a file of further column specs.
--flag and --flag=value are shorthand for flag[value]. Before the first
column argument they are read as command-line options instead, where
only -f and -h are accepted.

Paths        a.b.c dotted references, * wildcard, {...} quoted segment,
             scope::path for join-side references
Arithmetic   + - * / % neg abs round floor ceil sqrt pow log exp min max
Comparison   == != <= >= < >   logical: and or xor not (&& || ^ !)
Strings      len left right upper lower contains find concat (&)
Casts        real int bool str datetime type
Match ops    path pivotpath depth nodename nodenum nodestart nodeend
             attr (..) linenum
Aggregates   any sum avg min max stdev var cov corr count
Directives   in[file] join[file[,outer]] inheader joinheader outheader
             sort[key,...] first[n] top[n] distinct pivot(names,values
             [,jagged]) where[cond] sync[path] root[n] case help
`)
}
