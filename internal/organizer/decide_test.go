package organizer

import (
	"path/filepath"
	"testing"
)

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"invoices", "invoices", false},
		{"Tax Returns", "Tax Returns", false},
		{"work/2024", "work-2024", false},
		{`a\b`, "a-b", false},
		{"what?", "what", false},
		{`<"draft">`, "draft", false},
		{"../etc", "..-etc", false},
		{"", "", true},
		{"   ", "", true},
		{"?", "", true},
		{".", "", true},
		{"..", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeLabel(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTargetFolder(t *testing.T) {
	got := targetFolder(filepath.Join("/data", "a.pdf"), "invoices")
	if want := filepath.Join("/data", "invoices"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestAlreadyPlaced(t *testing.T) {
	tests := []struct {
		name  string
		root  string
		path  string
		label string
		want  bool
	}{
		{"in label folder", "/data", "/data/invoices/a.pdf", "invoices", true},
		{"nested label folder", "/data", "/data/2024/invoices/a.pdf", "invoices", true},
		{"at root", "/data", "/data/a.pdf", "invoices", false},
		{"other folder", "/data", "/data/receipts/a.pdf", "invoices", false},
		{"case differs", "/data", "/data/Invoices/a.pdf", "invoices", false},
		{"root named like label", "/invoices", "/invoices/a.pdf", "invoices", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alreadyPlaced(filepath.FromSlash(tt.root), filepath.FromSlash(tt.path), tt.label)
			if got != tt.want {
				t.Errorf("alreadyPlaced(%q, %q) = %v, want %v", tt.path, tt.label, got, tt.want)
			}
		})
	}
}
