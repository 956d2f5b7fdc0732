package testutil

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/junioryono/modulo"
)

// Common test errors
var (
	ErrTest        = errors.New("test error")
	ErrIntentional = errors.New("intentional error")
)

// Counter counts how often something was built.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Inc() int64   { return c.n.Add(1) }
func (c *Counter) Count() int64 { return c.n.Load() }

// Output receives rendered text.
type Output interface {
	Write(content string)
}

// Writer renders a date to an Output.
type Writer interface {
	WriteDate()
}

// ConsoleOutput collects everything written to it, prefixed.
type ConsoleOutput struct {
	prefix string

	mu    sync.Mutex
	lines []string
}

// ConsoleOutputParams configures ConsoleOutput.
type ConsoleOutputParams struct {
	Prefix string `default:""`
}

// NewConsoleOutput returns a build function counting its calls in built.
func NewConsoleOutput(built *Counter) func(*modulo.BuildContext, ConsoleOutputParams) (*ConsoleOutput, error) {
	return func(_ *modulo.BuildContext, p ConsoleOutputParams) (*ConsoleOutput, error) {
		built.Inc()
		return &ConsoleOutput{prefix: p.Prefix}, nil
	}
}

func (o *ConsoleOutput) Write(content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, o.prefix+content)
}

// Lines returns a copy of everything written.
func (o *ConsoleOutput) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

// String joins the written lines.
func (o *ConsoleOutput) String() string {
	return strings.Join(o.Lines(), "\n")
}

// DateWriter writes today's date to its Output.
type DateWriter struct {
	output Output
	today  string
}

// DateWriterParams configures DateWriter. Today has no default.
type DateWriterParams struct {
	Today string `required:"true"`
}

// NewDateWriter resolves Output from the build context.
func NewDateWriter(ctx *modulo.BuildContext, p DateWriterParams) (*DateWriter, error) {
	out, err := modulo.Get[Output](ctx)
	if err != nil {
		return nil, err
	}
	return &DateWriter{output: out, today: p.Today}, nil
}

func (w *DateWriter) WriteDate() {
	w.output.Write(fmt.Sprintf("Today is %s", w.today))
}

// Database is a component used by submodule and mutation tests.
type Database interface {
	Name() string
	Query(sql string) string
}

// TestDatabase implements Database.
type TestDatabase struct {
	ID   string
	name string
}

// DatabaseParams configures TestDatabase.
type DatabaseParams struct {
	Name string `default:"testdb"`
}

// NewTestDatabase returns a build function counting its calls in built.
func NewTestDatabase(built *Counter) func(*modulo.BuildContext, DatabaseParams) (*TestDatabase, error) {
	return func(_ *modulo.BuildContext, p DatabaseParams) (*TestDatabase, error) {
		built.Inc()
		return &TestDatabase{ID: uuid.NewString(), name: p.Name}, nil
	}
}

func (d *TestDatabase) Name() string { return d.name }

func (d *TestDatabase) Query(sql string) string {
	return fmt.Sprintf("%s: %s", d.name, sql)
}

// Repository is a provider-kind service built on Database.
type Repository interface {
	Database() Database
	Serial() int64
}

type repository struct {
	db     Database
	serial int64
}

func (r *repository) Database() Database { return r.db }
func (r *repository) Serial() int64      { return r.serial }

// NewRepository returns a provider function numbering each instance.
func NewRepository(serial *Counter) func(*modulo.Module) (Repository, error) {
	return func(m *modulo.Module) (Repository, error) {
		db, err := modulo.ResolveRef[Database](m)
		if err != nil {
			return nil, err
		}
		return &repository{db: db, serial: serial.Inc()}, nil
	}
}

// Mutable holds a value that tests change through ResolveMut.
type Mutable interface {
	Value() int
	SetValue(v int)
}

// Cell implements Mutable.
type Cell struct {
	value int
}

// CellParams configures Cell.
type CellParams struct {
	Value int `default:"1"`
}

// NewCell builds a Cell.
func NewCell(_ *modulo.BuildContext, p CellParams) (*Cell, error) {
	return &Cell{value: p.Value}, nil
}

func (c *Cell) Value() int     { return c.value }
func (c *Cell) SetValue(v int) { c.value = v }
