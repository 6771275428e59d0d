package core

import (
	"strings"
	"testing"

	"github.com/illarion/credvault/internal/storage"
)

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"plain ASCII text", []byte("Hello, World!\nThis is a test."), true},
		{"UTF-8 with special chars", []byte("Hello 世界! Ñoño café"), true},
		{"empty file", []byte(""), true},
		{"export lines", []byte(ExportHeader + "\nexample.com\talice\tpw\t\n"), true},
		{"null bytes", []byte("hello\x00world"), false},
		{"invalid UTF-8", []byte{0xff, 0xfe, 0xfd, 0x41}, false},
		{"mostly control chars", []byte{1, 2, 3, 4, 5, 6, 'a', 'b'}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFileType(tt.content); got != tt.want {
				t.Errorf("DetectFileType() for %s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestCompareFiles(t *testing.T) {
	if !CompareFiles([]byte("same"), []byte("same")) {
		t.Error("CompareFiles() should return true for identical content")
	}
	if !CompareFiles(nil, []byte{}) {
		t.Error("CompareFiles() should treat nil and empty as identical")
	}
	if CompareFiles([]byte("a"), []byte("b")) {
		t.Error("CompareFiles() should return false for different content")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    MergeStrategy
		wantErr bool
	}{
		{"", StrategyAsk, false},
		{"ask", StrategyAsk, false},
		{"keep-local", StrategyKeepLocal, false},
		{"Use-Import", StrategyUseImport, false},
		{"both", StrategyKeepBoth, false},
		{"abort", StrategyAbort, false},
		{"merge", StrategyAsk, true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandleConflict_Strategies(t *testing.T) {
	local := storage.Login{Site: "example.com", Username: "alice", Password: "old"}
	incoming := storage.Login{Site: "example.com", Username: "alice", Password: "new"}

	tests := []struct {
		strategy MergeStrategy
		want     ConflictResolution
		wantErr  bool
	}{
		{StrategyKeepLocal, ResolutionKeepLocal, false},
		{StrategyUseImport, ResolutionUseImport, false},
		{StrategyKeepBoth, ResolutionKeepBoth, false},
		{StrategyAbort, ResolutionSkip, true},
	}
	for _, tt := range tests {
		res, err := HandleConflict(local, incoming, tt.strategy)
		if (err != nil) != tt.wantErr {
			t.Errorf("strategy %d: error = %v, wantErr %v", tt.strategy, err, tt.wantErr)
		}
		if res.Resolution != tt.want {
			t.Errorf("strategy %d: resolution = %d, want %d", tt.strategy, res.Resolution, tt.want)
		}
	}
}

func TestLoginBlockRoundTrip(t *testing.T) {
	in := storage.Login{
		Site:     "mail.example.com",
		Username: "bob",
		Password: "p:w\tith\\tricky\nchars",
		Notes:    "two\nlines",
	}

	out, err := parseLoginBlock(loginBlock(in))
	if err != nil {
		t.Fatalf("Failed to parse login block: %v", err)
	}
	if *out != in {
		t.Errorf("Round trip mismatch:\nGot:  %+v\nWant: %+v", *out, in)
	}
}

func TestParseLoginBlock_Errors(t *testing.T) {
	tests := map[string]string{
		"missing site":  "username: bob\npassword: x\n",
		"unknown field": "site: a\ncolour: blue\n",
		"no colon":      "site: a\njust text\n",
		"bad escape":    "site: a\npassword: \\q\n",
	}
	for name, block := range tests {
		if _, err := parseLoginBlock([]byte(block)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCreateLineDiff_PasswordChange(t *testing.T) {
	local := loginBlock(storage.Login{Site: "example.com", Username: "alice", Password: "old"})
	incoming := loginBlock(storage.Login{Site: "example.com", Username: "alice", Password: "new"})

	result := string(createLineDiff(local, incoming))

	if !strings.Contains(result, "site: example.com\n") {
		t.Error("Result should contain unchanged site line")
	}
	if strings.Count(result, "<<<<<<< vault") != 1 {
		t.Errorf("Expected 1 conflict section, got:\n%s", result)
	}
	if !strings.Contains(result, "password: old\n=======\npassword: new\n>>>>>>> import\n") {
		t.Errorf("Conflict hunk should hold both passwords, got:\n%s", result)
	}
	if !hasConflictMarkers([]byte(result)) {
		t.Error("hasConflictMarkers() should detect markers")
	}
}

func TestCreateLineDiff_Identical(t *testing.T) {
	content := loginBlock(storage.Login{Site: "example.com", Password: "same"})

	result := createLineDiff(content, content)
	if hasConflictMarkers(result) {
		t.Error("Identical content should not have conflict markers")
	}
	if string(result) != string(content) {
		t.Errorf("Identical content should be preserved.\nGot: %q\nWant: %q", result, content)
	}
}

func TestCreateLineDiff_MultipleChanges(t *testing.T) {
	local := []byte("site: a\nusername: u\npassword: p\nnotes: n\n")
	incoming := []byte("site: a\nusername: u2\npassword: p\nnotes: n2\n")

	result := string(createLineDiff(local, incoming))
	if count := strings.Count(result, "<<<<<<< vault"); count != 2 {
		t.Errorf("Expected 2 conflict sections, got %d", count)
	}
}

func TestGenerateUnifiedDiff(t *testing.T) {
	vaultData := []byte("a\nb\nc\n")

	diff, err := GenerateUnifiedDiff("export.tsv", vaultData, vaultData)
	if err != nil {
		t.Fatalf("Failed to diff: %v", err)
	}
	if diff != "" {
		t.Errorf("Identical content should produce no diff, got %q", diff)
	}

	diff, err = GenerateUnifiedDiff("export.tsv", vaultData, []byte("a\nB\nc\n"))
	if err != nil {
		t.Fatalf("Failed to diff: %v", err)
	}
	if !strings.HasPrefix(diff, "--- vault\n+++ export.tsv\n") {
		t.Errorf("Diff should start with headers, got:\n%s", diff)
	}
	if !strings.Contains(diff, "-b") || !strings.Contains(diff, "+B") {
		t.Errorf("Diff should show the changed line, got:\n%s", diff)
	}

	diff, err = GenerateUnifiedDiff("blob", vaultData, []byte{0, 1, 2})
	if err != nil {
		t.Fatalf("Failed to diff: %v", err)
	}
	if !strings.HasPrefix(diff, "Binary file blob") {
		t.Errorf("Binary content should be reported, got %q", diff)
	}
}
