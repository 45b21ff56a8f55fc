package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cairnlang/cairn/pkg/ast"
)

// Extensions lists the file extensions recognised as programs.
var Extensions = []string{".cairn", ".hcl"}

// Loader reads programs and their imports from a filesystem.
type Loader struct {
	fs     afero.Fs
	logger zerolog.Logger

	// files records every file read, in read order.
	files []string
	cache map[string]*ast.Program
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger.With().Str("component", "loader").Logger()
	}
}

// New creates a loader reading from fs.
func New(fs afero.Fs, opts ...Option) *Loader {
	l := &Loader{
		fs:     fs,
		logger: zerolog.Nop(),
		cache:  make(map[string]*ast.Program),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses the program at path and every file it imports. Import paths
// are resolved relative to the importing file.
func (l *Loader) Load(path string) (*ast.Program, error) {
	return l.load(filepath.Clean(path), nil)
}

// Parse converts source without resolving imports. It is used for programs
// that do not live on a filesystem.
func (l *Loader) Parse(filename string, src []byte) (*ast.Program, error) {
	prog, _, err := l.parse(filename, src)
	return prog, err
}

// Files returns every file read so far, in read order.
func (l *Loader) Files() []string {
	return append([]string(nil), l.files...)
}

func (l *Loader) load(path string, stack []string) (*ast.Program, error) {
	for i, p := range stack {
		if p == path {
			chain := append(append([]string(nil), stack[i:]...), path)
			return nil, fmt.Errorf("import cycle: %s", strings.Join(chain, " -> "))
		}
	}
	if prog, ok := l.cache[path]; ok {
		return prog, nil
	}

	src, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	l.files = append(l.files, path)
	l.logger.Debug().Str("file", path).Int("bytes", len(src)).Msg("Parsing program")

	prog, imports, err := l.parse(path, src)
	if err != nil {
		return nil, err
	}

	stack = append(stack, path)
	for _, imp := range imports {
		target := imp.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		child, err := l.load(filepath.Clean(target), stack)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", imp.At, err)
		}
		imp.Program = child
	}

	l.cache[path] = prog
	return prog, nil
}

// parse converts one file. It returns the import statements whose
// programs still need loading.
func (l *Loader) parse(filename string, src []byte) (*ast.Program, []*ast.ImportStmt, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, nil, fmt.Errorf("failed to parse %s: not native syntax", filename)
	}

	stmts, diags := l.convertBody(body, bodyRoot)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", filename, diags)
	}

	var imports []*ast.ImportStmt
	for _, s := range stmts {
		if imp, ok := s.(*ast.ImportStmt); ok {
			imports = append(imports, imp)
		}
	}
	return &ast.Program{File: filename, Stmts: stmts}, imports, nil
}

// IsProgram reports whether path has a program extension.
func IsProgram(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
