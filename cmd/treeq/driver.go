package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/treeq/treeq/output"
	"github.com/treeq/treeq/query"
	"github.com/treeq/treeq/reader"
)

// driver wires the engine to its inputs and output: it expands argument
// files, assembles the join index, sequences the passes, and prints
// emitted rows.
type driver struct {
	parser      *query.Parser
	formatter   output.Formatter
	wroteHeader bool
}

func newDriver(formatter output.Formatter) *driver {
	return &driver{parser: query.NewParser(), formatter: formatter}
}

// readColumnSpecs queues column arguments, recursing into @-inclusion
// files. Inside a file, # starts an end-of-line comment unless quoted.
func (d *driver) readColumnSpecs(columnArgs []string) error {
	for _, columnArg := range columnArgs {
		if columnArg == "" {
			continue
		}
		if columnArg[0] == '@' || columnArg[len(columnArg)-1] == '@' {
			argFile := strings.TrimSuffix(strings.TrimPrefix(columnArg, "@"), "@")
			if argFile == "" {
				return errors.New("missing argument-inclusion filename after @")
			}
			f, err := os.Open(argFile)
			if err != nil {
				return errors.Wrapf(err, "argument-inclusion file could not be opened: %s", argFile)
			}
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := stripUnquotedComment(scanner.Text())
				if err := d.readColumnSpecs(splitArgLine(line)); err != nil {
					f.Close()
					return err
				}
			}
			if err := scanner.Err(); err != nil {
				f.Close()
				return errors.Wrapf(err, "reading argument-inclusion file: %s", argFile)
			}
			f.Close()
		} else {
			d.parser.AddColumn(columnArg)
		}
	}
	return nil
}

// stripUnquotedComment truncates a line at the first # outside quotes
// or braces.
func stripUnquotedComment(line string) string {
	var quote byte
	depth := 0
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '{':
			depth++
		case ch == '}':
			if depth > 0 {
				depth--
			}
		case ch == '#' && depth == 0:
			return line[:i]
		}
	}
	return line
}

// splitArgLine splits one argument-file line into specs on spaces
// outside quotes and braces.
func splitArgLine(line string) []string {
	var specs []string
	var cur strings.Builder
	var quote byte
	depth := 0
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
			cur.WriteByte(ch)
		case ch == '{':
			depth++
			cur.WriteByte(ch)
		case ch == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteByte(ch)
		case (ch == ' ' || ch == '\t') && depth == 0:
			if cur.Len() > 0 {
				specs = append(specs, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		specs = append(specs, cur.String())
	}
	return specs
}

// run plans the query and executes its passes.
func (d *driver) run() error {
	if err := d.parser.FinishColumns(); err != nil {
		return err
	}
	spec := d.parser.Spec()

	if spec.IsFlagSet(query.SpecShowUsage) {
		printUsage(os.Stdout)
		return nil
	}
	if spec.NumValueColumns() == 0 && !spec.IsFlagSet(query.SpecHasPivot) {
		return errors.New("no output columns specified")
	}

	if spec.IsFlagSet(query.SpecLeftSideOfJoin) {
		indexedJoin, err := loadIndexedJoin(spec.JoinSpec())
		if err != nil {
			return err
		}
		d.parser.SetIndexedJoin(indexedJoin)
	}

	d.parser.SetRowCallback(func(rowIdx int) {
		cnt := d.parser.RowRepeatCount(rowIdx)
		for i := 0; i < cnt; i++ {
			d.printRow(rowIdx)
		}
	})

	if err := doPasses(d.parser, spec.InputSpec().Filename, spec.InputSpec().Header); err != nil {
		return err
	}
	return d.formatter.Flush()
}

// loadIndexedJoin runs a second engine over the join input with the
// hoisted column spec and hashes every row by the indexed columns.
func loadIndexedJoin(joinSpec *query.JoinSpec) (query.IndexedRows, error) {
	joinParser := query.NewParser()
	if err := joinParser.Spec().AddJoinColumns(joinSpec); err != nil {
		return nil, err
	}

	var indices []int
	for _, column := range joinSpec.Columns {
		if column.Flags&query.ColumnIndexed != 0 {
			indices = append(indices, column.Index)
		}
	}

	indexedJoin := query.IndexedRows{}
	joinParser.SetRowCallback(func(rowIdx int) {
		emitted := joinParser.Row(rowIdx)
		row := make(query.Row, len(emitted))
		copy(row, emitted)
		// Equal hashes may bucket rows that won't ultimately join; the
		// equality filters still run per candidate row.
		index := query.HashRow(row, indices)
		indexedJoin[index] = append(indexedJoin[index], row)
	})

	if joinSpec.Filename == "" {
		return nil, errors.New("a join requires a join input file")
	}
	if err := doPasses(joinParser, joinSpec.Filename, joinSpec.Header); err != nil {
		return nil, err
	}
	return indexedJoin, nil
}

// doPasses sequences the engine's passes over the input.
func doPasses(p *query.Parser, filename string, header bool) error {
	passes := p.PassTypes()
	readingPasses := 0
	for _, passType := range passes {
		if passType == query.GatherDataPass || passType == query.MainPass {
			readingPasses++
		}
	}
	for _, passType := range passes {
		if p.Context().IsCancelled() {
			break
		}
		if err := p.Reset(passType); err != nil {
			return err
		}
		switch passType {
		case query.GatherDataPass, query.MainPass:
			if err := parseInput(p, filename, header, readingPasses > 1); err != nil {
				return err
			}
			if err := p.CheckUnreferenced(); err != nil {
				return err
			}
		case query.StoredValuesPass:
			if err := p.OutputStoredRows(); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseInput opens the input and pumps it through the dialect adapter.
// Standard input cannot be re-read, so multi-pass queries require a
// file.
func parseInput(p *query.Parser, filename string, header bool, multiPass bool) error {
	if filename == "" {
		if multiPass {
			return errors.New("the query requires two input passes, so stdin cannot be used; name the input with in[...]")
		}
		return reader.Parse(os.Stdin, p, reader.Options{Header: header})
	}
	if reader.IsParquetFile(filename) {
		return reader.ParseParquetFile(filename, p)
	}
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "input file could not be opened: %s", filename)
	}
	defer f.Close()
	return reader.Parse(f, p, reader.Options{Header: header})
}

// printRow renders one emitted row, writing the header line first unless
// outheader[false] turned it off.
func (d *driver) printRow(rowIdx int) {
	columns := d.parser.Columns()
	if !d.wroteHeader {
		if d.parser.Spec().OutputSpec().Header {
			var names []string
			for _, column := range columns {
				if column.IsOutput() {
					names = append(names, column.Name)
				}
			}
			d.formatter.WriteHeader(names)
		}
		d.wroteHeader = true
	}

	var values []string
	pivotPathCol := -1
	for _, column := range columns {
		if !column.IsOutput() {
			continue
		}
		value := d.parser.Value(rowIdx, column.ValueIdx)
		if column.Expr.Op != nil && column.Expr.Op.Opcode == query.OpPivotPath {
			pivotPathCol = len(values)
		}
		values = append(values, value.Format(query.SubsecondTimes, query.DefaultPrecision))
	}
	d.formatter.WriteRow(values, pivotPathCol)
}
