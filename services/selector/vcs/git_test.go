// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcs

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestParseNameStatus(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []ChangedFile
	}{
		{
			name:   "empty output",
			output: "",
			want:   nil,
		},
		{
			name:   "modified file",
			output: "M\tsrc/User.php\n",
			want: []ChangedFile{
				{Path: "src/User.php", Type: ChangeModified},
			},
		},
		{
			name:   "added and deleted",
			output: "A\tsrc/New.php\nD\tsrc/Old.php\n",
			want: []ChangedFile{
				{Path: "src/New.php", Type: ChangeAdded},
				{Path: "src/Old.php", Type: ChangeDeleted},
			},
		},
		{
			name:   "rename with score",
			output: "R100\tsrc/Old.php\tsrc/New.php\n",
			want: []ChangedFile{
				{Path: "src/New.php", OldPath: "src/Old.php", Type: ChangeRenamed},
			},
		},
		{
			name:   "copy with score",
			output: "C75\tsrc/Base.php\tsrc/Derived.php\n",
			want: []ChangedFile{
				{Path: "src/Derived.php", OldPath: "src/Base.php", Type: ChangeCopied},
			},
		},
		{
			name:   "blank lines skipped",
			output: "\nM\ta.php\n\n",
			want: []ChangedFile{
				{Path: "a.php", Type: ChangeModified},
			},
		},
		{
			name:   "malformed line without tab skipped",
			output: "garbage\nM\ta.php\n",
			want: []ChangedFile{
				{Path: "a.php", Type: ChangeModified},
			},
		},
		{
			name:   "unknown status defaults to modified",
			output: "T\ta.php\n",
			want: []ChangedFile{
				{Path: "a.php", Type: ChangeModified},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNameStatus(tt.output)
			if err != nil {
				t.Fatalf("parseNameStatus: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseNameStatus = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestChanged_FilesMode(t *testing.T) {
	g := NewGitClient(t.TempDir())
	got, err := g.Changed(context.Background(), Request{
		Mode:  ModeFiles,
		Files: []string{"src/User.php", "src/Role.php"},
	})
	if err != nil {
		t.Fatalf("Changed: %v", err)
	}
	want := []ChangedFile{
		{Path: "src/User.php", Type: ChangeModified},
		{Path: "src/Role.php", Type: ChangeModified},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Changed = %+v, want %+v", got, want)
	}
}

func TestChanged_RequestValidation(t *testing.T) {
	g := NewGitClient(t.TempDir())
	ctx := context.Background()

	if _, err := g.Changed(ctx, Request{Mode: ModeCommit}); err == nil {
		t.Error("commit mode without a hash returned nil error")
	}
	if _, err := g.Changed(ctx, Request{Mode: ModeBranch}); err == nil {
		t.Error("branch mode without a base returned nil error")
	}
	if _, err := g.Changed(ctx, Request{Mode: "bogus"}); err == nil {
		t.Error("unknown mode returned nil error")
	}
	if _, err := g.Changed(nil, Request{Mode: ModeDiff}); err == nil { //nolint:staticcheck
		t.Error("nil context returned nil error")
	}
}

func TestLines_FilesModeRejected(t *testing.T) {
	g := NewGitClient(t.TempDir())
	_, err := g.Lines(context.Background(), Request{Mode: ModeFiles})
	if err == nil || !strings.Contains(err.Error(), "no line-level diff") {
		t.Errorf("Lines(ModeFiles) error = %v", err)
	}
}

func TestParseChangedLines(t *testing.T) {
	raw := `diff --git a/svc.php b/svc.php
--- a/svc.php
+++ b/svc.php
@@ -10,0 +11,2 @@
+added one
+added two
@@ -20,1 +22,1 @@
-old line
+new line
diff --git a/new.php b/new.php
new file mode 100644
--- /dev/null
+++ b/new.php
@@ -0,0 +1,2 @@
+<?php
+class N {}
diff --git a/dead.php b/dead.php
deleted file mode 100644
--- a/dead.php
+++ /dev/null
@@ -1,2 +0,0 @@
-<?php
-class D {}
`
	got, err := parseChangedLines([]byte(raw))
	if err != nil {
		t.Fatalf("parseChangedLines: %v", err)
	}

	want := ChangedLines{
		"svc.php": {11, 12, 22},
		"new.php": {1, 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseChangedLines = %v, want %v", got, want)
	}
	if _, ok := got["dead.php"]; ok {
		t.Error("deleted file has a new-side entry")
	}
}

func TestParseChangedLines_PureDeletionAnchors(t *testing.T) {
	raw := `diff --git a/svc.php b/svc.php
--- a/svc.php
+++ b/svc.php
@@ -5,2 +4,0 @@
-removed one
-removed two
`
	got, err := parseChangedLines([]byte(raw))
	if err != nil {
		t.Fatalf("parseChangedLines: %v", err)
	}
	// A removal-only edit still marks a line near the removal site so
	// the enclosing method registers as touched.
	if !reflect.DeepEqual(got["svc.php"], []int{4}) {
		t.Errorf("deletion anchor = %v, want [4]", got["svc.php"])
	}
}

func TestParseChangedLines_DeletionAtTopOfFile(t *testing.T) {
	raw := `diff --git a/svc.php b/svc.php
--- a/svc.php
+++ b/svc.php
@@ -1,1 +0,0 @@
-first line
`
	got, err := parseChangedLines([]byte(raw))
	if err != nil {
		t.Fatalf("parseChangedLines: %v", err)
	}
	if !reflect.DeepEqual(got["svc.php"], []int{1}) {
		t.Errorf("top-of-file deletion anchor = %v, want [1]", got["svc.php"])
	}
}

func TestStripDiffPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a/src/User.php", "src/User.php"},
		{"b/src/User.php", "src/User.php"},
		{"/dev/null", "/dev/null"},
		{"plain.php", "plain.php"},
	}
	for _, tt := range tests {
		if got := stripDiffPrefix(tt.in); got != tt.want {
			t.Errorf("stripDiffPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
