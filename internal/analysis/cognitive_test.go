package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCognitiveList(t *testing.T) {
	root := "/tmp/qg_acme_widget_1"
	data := []byte(`[
		{"path": "/tmp/qg_acme_widget_1/app/views.py", "function_name": "index", "complexity": 3},
		{"path": "/tmp/qg_acme_widget_1/app/views.py", "function_name": "detail", "complexity": 4},
		{"file": "app/models.py", "cognitive_complexity": 2},
		{"file_path": "/tmp/qg_acme_widget_1/.venv/lib/x.py", "complexity": 9},
		{"path": "/elsewhere/y.py", "complexity": 1},
		{"function_name": "orphan", "complexity": 5}
	]`)

	got := ParseCognitive(data, root)
	assert.Equal(t, map[string]int{
		"app/views.py":  7,
		"app/models.py": 2,
	}, got)
}

func TestParseCognitiveObject(t *testing.T) {
	root := "/repo"
	data := []byte(`{
		"/repo/a.py": 5,
		"b/c.py": {"complexity": 8},
		"node_modules/x.py": 3,
		"d.py": "n/a"
	}`)

	got := ParseCognitive(data, root)
	assert.Equal(t, map[string]int{"a.py": 5, "b/c.py": 8}, got)
}

func TestParseCognitiveUnexpectedShape(t *testing.T) {
	assert.Empty(t, ParseCognitive([]byte(`42`), "/repo"))
}

func newTestCognitive(run runFunc) *CognitiveAnalyzer {
	c := NewCognitiveAnalyzer(CognitiveOptions{ExcludeFlag: DefaultExcludeFlag, Timeout: time.Second})
	c.run = run
	return c
}

func TestCognitiveAnalyzeStdout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/views.py", "def index():\n    pass\n")

	var gotArgs []string
	c := newTestCognitive(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		assert.Equal(t, DefaultCognitiveCommand, name)
		assert.NotEqual(t, root, dir, "tool runs in its own work directory")
		gotArgs = args
		return []byte(fmt.Sprintf(`[{"path": %q, "complexity": 4}]`, filepath.Join(root, "app", "views.py"))), nil
	})

	got := c.Analyze(context.Background(), root)
	assert.Equal(t, map[string]int{"app/views.py": 4}, got)

	require.GreaterOrEqual(t, len(gotArgs), 2)
	assert.Equal(t, root, gotArgs[0])
	assert.Equal(t, "-j", gotArgs[1])
	assert.Contains(t, gotArgs, "--exclude")
	assert.Contains(t, gotArgs, "node_modules")
	assert.Equal(t, 2+2*len(SkippedDirs()), len(gotArgs))
}

func TestCognitiveAnalyzeOutputFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", "x = 1\n")

	c := newTestCognitive(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		err := os.WriteFile(filepath.Join(dir, cognitiveOutputFile), []byte(`{"main.py": {"complexity": 6}}`), 0o644)
		return []byte("analysis finished\n"), err
	})

	assert.Equal(t, map[string]int{"main.py": 6}, c.Analyze(context.Background(), root))
}

func TestCognitiveAnalyzeDegrades(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", "x = 1\n")

	tests := []struct {
		name string
		run  runFunc
	}{
		{"non-zero exit", func(context.Context, string, string, ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		}},
		{"missing executable", func(context.Context, string, string, ...string) ([]byte, error) {
			return nil, fmt.Errorf("complexipy: %w", exec.ErrNotFound)
		}},
		{"malformed output", func(context.Context, string, string, ...string) ([]byte, error) {
			return []byte("{not json"), nil
		}},
		{"timeout", func(ctx context.Context, _ string, _ string, _ ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCognitive(tt.run)
			c.timeout = 20 * time.Millisecond
			assert.Nil(t, c.Analyze(context.Background(), root))
		})
	}
}

func TestCognitiveSkipsWithoutPython(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "venv/lib/site.py", "x = 1\n")

	called := false
	c := newTestCognitive(func(context.Context, string, string, ...string) ([]byte, error) {
		called = true
		return nil, nil
	})

	assert.Nil(t, c.Analyze(context.Background(), root))
	assert.False(t, called, "tool must not run without Python sources")
}

func TestCognitiveMissingBinaryForReal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.py", "x = 1\n")

	c := NewCognitiveAnalyzer(CognitiveOptions{Command: "qg-no-such-analyzer", Timeout: time.Second})
	assert.Nil(t, c.Analyze(context.Background(), root))
}
