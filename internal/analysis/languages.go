package analysis

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language names reported in results.
const (
	LangC          = "C"
	LangCOrCPP     = "C/C++"
	LangCPP        = "C++"
	LangCSharp     = "C#"
	LangGo         = "Go"
	LangJava       = "Java"
	LangJavaScript = "JavaScript"
	LangKotlin     = "Kotlin"
	LangLua        = "Lua"
	LangPHP        = "PHP"
	LangPython     = "Python"
	LangRuby       = "Ruby"
	LangRust       = "Rust"
	LangScala      = "Scala"
	LangSwift      = "Swift"
	LangTypeScript = "TypeScript"
)

// grammar pairs a display language with its parser and the node types that
// open a function body.
type grammar struct {
	language  string
	get       func() *sitter.Language
	functions map[string]bool
}

func set(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

var (
	cFuncs    = set("function_definition")
	jsFuncs   = set("function_declaration", "function_expression", "function", "arrow_function", "method_definition", "generator_function_declaration", "generator_function")
	javaFuncs = set("method_declaration", "constructor_declaration")
)

var grammars = map[string]grammar{
	".c":     {LangC, c.GetLanguage, cFuncs},
	".h":     {LangCOrCPP, cpp.GetLanguage, cFuncs},
	".cpp":   {LangCPP, cpp.GetLanguage, cFuncs},
	".cc":    {LangCPP, cpp.GetLanguage, cFuncs},
	".cxx":   {LangCPP, cpp.GetLanguage, cFuncs},
	".hpp":   {LangCPP, cpp.GetLanguage, cFuncs},
	".hh":    {LangCPP, cpp.GetLanguage, cFuncs},
	".java":  {LangJava, java.GetLanguage, javaFuncs},
	".cs":    {LangCSharp, csharp.GetLanguage, set("method_declaration", "constructor_declaration", "local_function_statement")},
	".js":    {LangJavaScript, javascript.GetLanguage, jsFuncs},
	".jsx":   {LangJavaScript, javascript.GetLanguage, jsFuncs},
	".ts":    {LangTypeScript, typescript.GetLanguage, jsFuncs},
	".tsx":   {LangTypeScript, tsx.GetLanguage, jsFuncs},
	".py":    {LangPython, python.GetLanguage, set("function_definition")},
	".rb":    {LangRuby, ruby.GetLanguage, set("method", "singleton_method")},
	".go":    {LangGo, golang.GetLanguage, set("function_declaration", "method_declaration", "func_literal")},
	".swift": {LangSwift, swift.GetLanguage, set("function_declaration", "init_declaration")},
	".php":   {LangPHP, php.GetLanguage, set("function_definition", "method_declaration")},
	".scala": {LangScala, scala.GetLanguage, set("function_definition")},
	".lua":   {LangLua, lua.GetLanguage, set("function_declaration", "function_definition")},
	".rs":    {LangRust, rust.GetLanguage, set("function_item")},
	".kt":    {LangKotlin, kotlin.GetLanguage, set("function_declaration")},
	".kts":   {LangKotlin, kotlin.GetLanguage, set("function_declaration")},
}

// grammarFor returns the grammar for a file path by extension.
func grammarFor(path string) (grammar, bool) {
	g, ok := grammars[strings.ToLower(filepath.Ext(path))]
	return g, ok
}

// Supported reports whether the structural analyzer handles path.
func Supported(path string) bool {
	_, ok := grammarFor(path)
	return ok
}

// LanguageOf returns the display language for path, or "" if unsupported.
func LanguageOf(path string) string {
	g, ok := grammarFor(path)
	if !ok {
		return ""
	}
	return g.language
}
