package domain

import (
	"strings"
	"testing"
)

func TestParseName(t *testing.T) {
	if _, err := ParseName("  web  "); err != nil {
		t.Fatalf("trimmed name rejected: %v", err)
	}
	bad := []string{
		"",
		"   ",
		"web/app",
		`web\app`,
		"web\x00",
		"tab\tname",
		strings.Repeat("x", 101),
	}
	for _, raw := range bad {
		if _, err := ParseName(raw); err == nil {
			t.Fatalf("ParseName(%q) accepted", raw)
		}
	}
	if name, err := ParseName(strings.Repeat("x", 100)); err != nil || len(name) != 100 {
		t.Fatalf("boundary length rejected: %v", err)
	}
}

func TestParseNamesRejectsDuplicates(t *testing.T) {
	if _, err := ParseNames([]string{"web", " web "}); err == nil {
		t.Fatal("duplicate after trim accepted")
	}
	names, err := ParseNames([]string{"web", "app"})
	if err != nil || len(names) != 2 {
		t.Fatalf("valid roster rejected: %v", err)
	}
}

func TestIsURL(t *testing.T) {
	urls := []string{"https://example.com/a", "http://x", "s3://bucket/key", "ftp+ssh://h"}
	for _, u := range urls {
		if !IsURL(u) {
			t.Fatalf("IsURL(%q) = false", u)
		}
	}
	paths := []string{"uploads/a.pdf", "://nope", "1http://x", "outputs/web/data.csv", ""}
	for _, p := range paths {
		if IsURL(p) {
			t.Fatalf("IsURL(%q) = true", p)
		}
	}
}

func TestOverallStatus(t *testing.T) {
	task := Task{Status: StatusInProgress, Domains: []Domain{
		{Name: "web", Status: StatusDelayed},
		{Name: "app", Status: StatusSubmitted},
	}}
	if got := task.OverallStatus(); got != StatusDelayed {
		t.Fatalf("got %s", got)
	}
	task.Domains[1].Status = StatusInRnD
	if got := task.OverallStatus(); got != StatusInRnD {
		t.Fatalf("in-R&D should win, got %s", got)
	}
	task.Domains = nil
	if got := task.OverallStatus(); got != StatusInProgress {
		t.Fatalf("no domains should report stored status, got %s", got)
	}
}

func TestAllDomainsSubmitted(t *testing.T) {
	var task Task
	if task.AllDomainsSubmitted() {
		t.Fatal("empty task reported submitted")
	}
	task.Domains = []Domain{{Status: StatusSubmitted}, {Status: StatusSubmitted}}
	if !task.AllDomainsSubmitted() {
		t.Fatal("all submitted not detected")
	}
	task.Domains[0].Status = StatusDelayed
	if task.AllDomainsSubmitted() {
		t.Fatal("delayed domain ignored")
	}
}

func TestSplitRefs(t *testing.T) {
	set := SplitRefs([]string{"uploads/a.pdf", "https://x.test/a", "uploads/b.pdf"})
	if len(set.Files) != 2 || len(set.URLs) != 1 {
		t.Fatalf("split = %+v", set)
	}
}
