package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxFileBytes skips generated or vendored blobs.
	DefaultMaxFileBytes = 1 << 20

	// DefaultConcurrency is the number of files parsed at once.
	DefaultConcurrency = 4

	anonymous = "(anonymous)"
)

// FunctionMetrics holds the structural metrics of one function.
type FunctionMetrics struct {
	Name                 string `json:"name"`
	Signature            string `json:"signature"`
	StartLine            int    `json:"start_line"`
	EndLine              int    `json:"end_line"`
	LinesOfCode          int    `json:"nloc"`
	CyclomaticComplexity int    `json:"ccn"`
	TokenCount           int    `json:"token_count"`
	ParamCount           int    `json:"param_count"`
}

// FileMetrics holds the metrics of one source file. CognitiveComplexity is
// set only for Python files the cognitive analyzer scored.
type FileMetrics struct {
	Path                 string            `json:"path"`
	Language             string            `json:"language"`
	LinesOfCode          int               `json:"nloc"`
	CyclomaticComplexity int               `json:"ccn"`
	TokenCount           int               `json:"token_count"`
	Functions            []FunctionMetrics `json:"functions"`
	CognitiveComplexity  *int              `json:"cognitive_complexity,omitempty"`
}

// Decision points that add one to cyclomatic complexity. Only named nodes
// are matched, so keyword tokens that share a name (Python's "if") are not.
var decisionNodes = set(
	// conditionals
	"if_statement", "if_expression", "elif_clause", "else_if_clause", "elseif_statement",
	"if", "elsif", "unless", "if_modifier", "unless_modifier", "guard_statement",
	"conditional_expression", "ternary_expression", "conditional",
	// loops
	"for_statement", "for_in_statement", "for_range_loop", "enhanced_for_statement",
	"foreach_statement", "for_each_statement", "for_expression", "while_statement",
	"while_expression", "do_statement", "do_while_statement", "repeat_statement",
	"repeat_while_statement", "while", "until", "while_modifier", "until_modifier",
	"for", "for_in_clause", "if_clause",
	// branches
	"expression_case", "type_case", "communication_case", "case_clause", "switch_case",
	"case_statement", "switch_section", "switch_label", "switch_entry", "when", "when_entry",
	"match_arm",
	// handlers
	"catch_clause", "catch_block", "except_clause", "rescue",
)

// Short-circuit operators, matched on anonymous tokens only.
var logicalOps = set("&&", "||", "and", "or")

var identifierTypes = set("identifier", "simple_identifier", "property_identifier", "field_identifier")

// StructuralOptions configures a StructuralAnalyzer.
type StructuralOptions struct {
	MaxFileBytes int64
	Concurrency  int
	Logger       *slog.Logger
}

// StructuralAnalyzer computes per-file and per-function size and
// cyclomatic complexity with tree-sitter grammars.
type StructuralAnalyzer struct {
	maxFileBytes int64
	concurrency  int
	logger       *slog.Logger
}

// NewStructuralAnalyzer creates a StructuralAnalyzer.
func NewStructuralAnalyzer(opts StructuralOptions) *StructuralAnalyzer {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &StructuralAnalyzer{
		maxFileBytes: opts.MaxFileBytes,
		concurrency:  opts.Concurrency,
		logger:       opts.Logger,
	}
}

// Analyze walks root and analyzes every supported file outside the
// denylist. Files that fail to read or parse are logged and skipped.
func (a *StructuralAnalyzer) Analyze(ctx context.Context, root string) ([]FileMetrics, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !Supported(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > a.maxFileBytes {
			a.logger.Debug("skipping large file", "path", path, "bytes", info.Size())
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	results := make([]*FileMetrics, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := os.ReadFile(path)
			if err != nil {
				a.logger.Warn("reading source file", "path", path, "error", err)
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			fm, err := a.AnalyzeSource(gctx, filepath.ToSlash(rel), src)
			if err != nil {
				a.logger.Warn("analyzing source file", "path", rel, "error", err)
				return nil
			}
			results[i] = fm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]FileMetrics, 0, len(results))
	for _, fm := range results {
		if fm != nil {
			out = append(out, *fm)
		}
	}
	return out, nil
}

// AnalyzeSource analyzes one file's contents. The grammar is chosen by the
// extension of path.
func (a *StructuralAnalyzer) AnalyzeSource(ctx context.Context, path string, src []byte) (*FileMetrics, error) {
	g, ok := grammarFor(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	if bytes.IndexByte(src, 0) >= 0 {
		return nil, fmt.Errorf("binary content: %s", path)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.get())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	fm := &FileMetrics{
		Path:     path,
		Language: g.language,
	}
	fm.LinesOfCode, fm.TokenCount = sizeOf(root, src)

	w := &funcWalker{src: src, funcs: g.functions}
	w.visit(root)
	fm.Functions = w.out
	for _, fn := range fm.Functions {
		fm.CyclomaticComplexity += fn.CyclomaticComplexity
	}
	return fm, nil
}

type funcWalker struct {
	src   []byte
	funcs map[string]bool
	out   []FunctionMetrics
}

func (w *funcWalker) visit(n *sitter.Node) {
	if n.IsNamed() && w.funcs[n.Type()] {
		w.out = append(w.out, w.measure(n))
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			w.visit(c)
		}
	}
}

func (w *funcWalker) measure(n *sitter.Node) FunctionMetrics {
	nloc, tokens := sizeOf(n, w.src)
	return FunctionMetrics{
		Name:                 functionName(n, w.src),
		Signature:            signature(n, w.src),
		StartLine:            int(n.StartPoint().Row) + 1,
		EndLine:              int(n.EndPoint().Row) + 1,
		LinesOfCode:          nloc,
		CyclomaticComplexity: cyclomatic(n, w.funcs),
		TokenCount:           tokens,
		ParamCount:           paramCount(n, w.src),
	}
}

// cyclomatic returns 1 plus the decision points inside fn, excluding those
// of nested functions.
func cyclomatic(fn *sitter.Node, funcs map[string]bool) int {
	ccn := 1
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if c == nil {
				continue
			}
			if c.IsNamed() {
				if funcs[c.Type()] {
					continue
				}
				if decisionNodes[c.Type()] && !isDefaultLabel(c) {
					ccn++
				}
			} else if logicalOps[c.Type()] {
				ccn++
			}
			walk(c)
		}
	}
	walk(fn)
	return ccn
}

// isDefaultLabel reports whether a case-like node is a default branch.
func isDefaultLabel(n *sitter.Node) bool {
	if n.ChildCount() == 0 {
		return false
	}
	first := n.Child(0)
	return first != nil && (first.Type() == "default" || first.Type() == "else")
}

// sizeOf counts the lines holding code tokens and the tokens themselves.
// Comments and whitespace-only tokens are ignored.
func sizeOf(n *sitter.Node, src []byte) (nloc, tokens int) {
	rows := make(map[uint32]struct{})
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if strings.Contains(n.Type(), "comment") {
			return
		}
		if n.ChildCount() == 0 {
			if n.StartByte() == n.EndByte() || strings.TrimSpace(n.Content(src)) == "" {
				return
			}
			tokens++
			start, end := n.StartPoint(), n.EndPoint()
			last := end.Row
			if end.Column == 0 && last > start.Row {
				last--
			}
			for r := start.Row; r <= last; r++ {
				rows[r] = struct{}{}
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if c := n.Child(i); c != nil {
				walk(c)
			}
		}
	}
	walk(n)
	return len(rows), tokens
}

func functionName(n *sitter.Node, src []byte) string {
	if n.Type() == "init_declaration" {
		return "init"
	}
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	if d := n.ChildByFieldName("declarator"); d != nil {
		return declaratorName(d, src)
	}
	// Anonymous functions bound to a variable, key or field take its name.
	if p := n.Parent(); p != nil {
		for _, field := range []string{"name", "key", "left"} {
			if name := p.ChildByFieldName(field); name != nil && name != n {
				return name.Content(src)
			}
		}
	}
	if n.ChildByFieldName("parameter") != nil || n.ChildByFieldName("parameters") != nil {
		return anonymous
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c != nil && identifierTypes[c.Type()] {
			return c.Content(src)
		}
	}
	return anonymous
}

func declaratorName(d *sitter.Node, src []byte) string {
	for d != nil {
		switch d.Type() {
		case "identifier", "field_identifier", "qualified_identifier", "destructor_name", "operator_name", "template_function":
			return d.Content(src)
		}
		next := d.ChildByFieldName("declarator")
		if next == nil {
			return d.Content(src)
		}
		d = next
	}
	return anonymous
}

// signature is the function text up to its body with whitespace collapsed.
func signature(n *sitter.Node, src []byte) string {
	end := n.EndByte()
	if body := bodyOf(n); body != nil {
		end = body.StartByte()
	} else if i := bytes.IndexByte(src[n.StartByte():n.EndByte()], '\n'); i >= 0 {
		end = n.StartByte() + uint32(i)
	}
	sig := strings.Join(strings.Fields(string(src[n.StartByte():end])), " ")
	return strings.TrimSuffix(sig, ":")
}

func bodyOf(n *sitter.Node) *sitter.Node {
	if body := n.ChildByFieldName("body"); body != nil {
		return body
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil {
			continue
		}
		if t := c.Type(); strings.Contains(t, "body") || t == "block" || t == "compound_statement" {
			return c
		}
	}
	return nil
}

func paramCount(n *sitter.Node, src []byte) int {
	if n.ChildByFieldName("parameter") != nil {
		return 1
	}

	// Some grammars hang parameters directly off the declaration.
	direct := 0
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil && c.Type() == "parameter" {
			direct++
		}
	}
	if direct > 0 {
		return direct
	}

	list := paramList(n)
	if list == nil {
		return 0
	}
	count := 0
	for i := 0; i < int(list.NamedChildCount()); i++ {
		c := list.NamedChild(i)
		if c == nil || strings.Contains(c.Type(), "comment") {
			continue
		}
		switch c.Type() {
		case "parameter_declaration", "variadic_parameter_declaration":
			if c.Content(src) == "void" {
				continue
			}
			names := 0
			for j := 0; j < int(c.NamedChildCount()); j++ {
				if cc := c.NamedChild(j); cc != nil && cc.Type() == "identifier" {
					names++
				}
			}
			count += max(names, 1)
		default:
			count++
		}
	}
	return count
}

func paramList(n *sitter.Node) *sitter.Node {
	if p := n.ChildByFieldName("parameters"); p != nil {
		return p
	}
	for d := n.ChildByFieldName("declarator"); d != nil; d = d.ChildByFieldName("declarator") {
		if p := d.ChildByFieldName("parameters"); p != nil {
			return p
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c != nil && strings.Contains(c.Type(), "parameters") {
			return c
		}
	}
	return nil
}
