package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jacklau/quickgrade/internal/clone"
	"github.com/jacklau/quickgrade/internal/fetch"
	"github.com/jacklau/quickgrade/internal/notify"
	"github.com/jacklau/quickgrade/internal/reconcile"
)

func TestReadURLs(t *testing.T) {
	input := `
# team repos
https://github.com/acme/widget

  acme/gadget  
# trailing comment
`
	urls, err := readURLs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"https://github.com/acme/widget", "acme/gadget"}
	if len(urls) != len(want) {
		t.Fatalf("got %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestFetchHelpExamplesParse(t *testing.T) {
	checked := 0
	for _, line := range strings.Split(fetchCmd.Long, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "quickgrade" || fields[1] != "fetch" {
			continue
		}
		for _, arg := range fields[2:] {
			if strings.HasPrefix(arg, "-") || !strings.Contains(arg, "/") {
				continue
			}
			if _, err := clone.ParseURL(arg); err != nil {
				t.Errorf("help example %q does not parse: %v", arg, err)
			}
			checked++
		}
	}
	if checked == 0 {
		t.Fatal("expected the help text to show example URLs")
	}
}

func TestResolveURLs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "repos.txt")
	if err := os.WriteFile(file, []byte("acme/one\nacme/two\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		input   string
		stdin   string
		want    int
		wantErr bool
	}{
		{name: "args only", args: []string{"acme/a", "acme/b"}, want: 2},
		{name: "file only", input: file, want: 2},
		{name: "args and file", args: []string{"acme/a"}, input: file, want: 3},
		{name: "stdin", input: "-", stdin: "acme/x\n", want: 1},
		{name: "missing file", input: filepath.Join(dir, "nope.txt"), wantErr: true},
		{name: "nothing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			urls, err := resolveURLs(tt.args, tt.input, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(urls) != tt.want {
				t.Errorf("got %d urls, want %d", len(urls), tt.want)
			}
		})
	}
}

func TestPrintResults(t *testing.T) {
	report := notify.NewReport("octocat", []fetch.Result{
		{
			URL: "https://github.com/acme/widget", FullName: "acme/widget", Success: true,
			Stats:    reconcile.Stats{Commits: 12, Branches: 2},
			Warnings: []string{"clone failed: authentication required"},
			Duration: 1500 * time.Millisecond,
		},
		{URL: "ftp://nope", Success: false, Error: "invalid GitHub URL"},
	}, 3*time.Second)

	var buf bytes.Buffer
	printResults(&buf, report)
	out := buf.String()

	for _, want := range []string{
		"ok    acme/widget (1.5s)",
		"warning: clone failed: authentication required",
		"FAIL  ftp://nope: invalid GitHub URL",
		"Fetched 1/2 repositories in 3s",
		"12 commits, 2 branches",
		"1 warnings",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}
