package organizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fumiama/go-docx"
	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docsort/internal/classify"
	"github.com/dgallion1/docsort/internal/parser"
)

type staticExtractor struct {
	text string
	err  error
}

func (s staticExtractor) Extract(context.Context, string) (string, error) {
	return s.text, s.err
}

type call struct {
	content  string
	filename string
}

// labelClassifier answers with a label per file name.
type labelClassifier struct {
	labels map[string]string
	errs   map[string]error
	calls  []call
}

func (c *labelClassifier) Classify(_ context.Context, content, filename string) (classify.Result, error) {
	c.calls = append(c.calls, call{content: content, filename: filename})
	if err, ok := c.errs[filename]; ok {
		return classify.Result{}, err
	}
	return classify.Result{Content: content, Label: c.labels[filename], Filename: filename}, nil
}

type scriptedApprover struct {
	answer bool
	err    error
	calls  []Proposal
}

func (a *scriptedApprover) Approve(_ context.Context, p Proposal) (bool, error) {
	a.calls = append(a.calls, p)
	return a.answer, a.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected %s to exist: %v", path, err)
	}
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected %s to be gone, stat err=%v", path, err)
	}
}

func onlyOutcome(t *testing.T, r *Report) Outcome {
	t.Helper()
	if len(r.Outcomes) != 1 {
		t.Fatalf("expected one outcome, got %+v", r.Outcomes)
	}
	return r.Outcomes[0]
}

func TestRun_MovesIntoLabelFolder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), []byte("%PDF"))

	cls := &labelClassifier{labels: map[string]string{"a.pdf": "invoices"}}
	appr := &scriptedApprover{answer: true}
	org := New(staticExtractor{text: "Invoice"}, cls, appr, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertExists(t, filepath.Join(root, "invoices", "a.pdf"))
	assertMissing(t, filepath.Join(root, "a.pdf"))

	out := onlyOutcome(t, report)
	if out.Status != StatusMoved || out.Target != filepath.Join(root, "invoices", "a.pdf") {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(appr.calls) != 1 || appr.calls[0].Name != "a.pdf" || appr.calls[0].Label != "invoices" {
		t.Errorf("unexpected proposals %+v", appr.calls)
	}
}

func TestRun_DeclineLeavesFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), []byte("%PDF"))

	cls := &labelClassifier{labels: map[string]string{"a.pdf": "invoices"}}
	org := New(staticExtractor{text: "x"}, cls, &scriptedApprover{answer: false}, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExists(t, filepath.Join(root, "a.pdf"))
	assertMissing(t, filepath.Join(root, "invoices"))
	if got := onlyOutcome(t, report).Status; got != StatusDeclined {
		t.Errorf("expected declined, got %s", got)
	}
}

func TestRun_ApproverErrorLeavesFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), []byte("%PDF"))

	cls := &labelClassifier{labels: map[string]string{"a.pdf": "invoices"}}
	appr := &scriptedApprover{answer: true, err: errors.New("console closed")}
	org := New(staticExtractor{text: "x"}, cls, appr, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExists(t, filepath.Join(root, "a.pdf"))
	if out := onlyOutcome(t, report); out.Status != StatusDeclined || out.Error == "" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRun_AlreadyPlacedSkipsPrompt(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "invoices", "a.pdf")
	writeFile(t, path, []byte("%PDF"))

	cls := &labelClassifier{labels: map[string]string{"a.pdf": "invoices"}}
	appr := &scriptedApprover{answer: true}
	org := New(staticExtractor{text: "x"}, cls, appr, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(appr.calls) != 0 {
		t.Errorf("expected no prompt, got %d", len(appr.calls))
	}
	assertExists(t, path)
	assertMissing(t, filepath.Join(root, "invoices", "invoices"))
	if got := onlyOutcome(t, report).Status; got != StatusAlreadyPlaced {
		t.Errorf("expected already_placed, got %s", got)
	}
}

func TestRun_ClassificationErrorLeavesFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), []byte("%PDF"))

	cls := &labelClassifier{errs: map[string]error{
		"a.pdf": &classify.Error{Kind: classify.KindSchema, Err: errors.New("missing required fields: label")},
	}}
	appr := &scriptedApprover{answer: true}
	org := New(staticExtractor{text: "x"}, cls, appr, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExists(t, filepath.Join(root, "a.pdf"))
	if len(appr.calls) != 0 {
		t.Error("expected no prompt after a classification error")
	}
	if out := onlyOutcome(t, report); out.Status != StatusClassifyFailed || out.Error == "" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRun_InvalidLabelSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("x"))

	cls := &labelClassifier{labels: map[string]string{"a.txt": ".."}}
	appr := &scriptedApprover{answer: true}
	org := New(staticExtractor{text: "x"}, cls, appr, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExists(t, filepath.Join(root, "a.txt"))
	if got := onlyOutcome(t, report).Status; got != StatusInvalidLabel {
		t.Errorf("expected invalid_label, got %s", got)
	}
}

func TestRun_LabelWithSeparatorStaysUnderParent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("x"))

	cls := &labelClassifier{labels: map[string]string{"a.txt": "../etc"}}
	org := New(staticExtractor{text: "x"}, cls, &scriptedApprover{answer: true}, quietLogger(), Options{})

	if _, err := org.Run(context.Background(), root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExists(t, filepath.Join(root, "..-etc", "a.txt"))
}

func TestRun_SnapshotDoesNotRevisitMovedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("a"))
	writeFile(t, filepath.Join(root, "b.txt"), []byte("b"))

	cls := &labelClassifier{labels: map[string]string{"a.txt": "notes", "b.txt": "notes"}}
	org := New(staticExtractor{text: "x"}, cls, &scriptedApprover{answer: true}, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cls.calls) != 2 {
		t.Fatalf("expected 2 classifications, got %d", len(cls.calls))
	}
	if report.Count(StatusMoved) != 2 {
		t.Errorf("expected 2 moves, got %+v", report.Outcomes)
	}
	assertExists(t, filepath.Join(root, "notes", "a.txt"))
	assertExists(t, filepath.Join(root, "notes", "b.txt"))
}

func TestRun_DryRunNeverMoves(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), []byte("%PDF"))

	cls := &labelClassifier{labels: map[string]string{"a.pdf": "invoices"}}
	appr := &scriptedApprover{answer: true}
	org := New(staticExtractor{text: "x"}, cls, appr, quietLogger(), Options{DryRun: true})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExists(t, filepath.Join(root, "a.pdf"))
	assertMissing(t, filepath.Join(root, "invoices"))
	if len(appr.calls) != 0 {
		t.Error("expected no prompt in dry run")
	}
	if out := onlyOutcome(t, report); out.Status != StatusPlanned || out.Target != filepath.Join(root, "invoices") {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRun_TruncatesContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("x"))

	long := "one two three four five six seven eight nine ten"
	cls := &labelClassifier{labels: map[string]string{"a.txt": "notes"}}
	org := New(staticExtractor{text: long}, cls, &scriptedApprover{}, quietLogger(), Options{MaxContentTokens: 4})

	if _, err := org.Run(context.Background(), root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cls.calls[0].content; got != "one two three" {
		t.Errorf("expected truncated content, got %q", got)
	}
}

func TestRun_MissingRoot(t *testing.T) {
	org := New(staticExtractor{}, &labelClassifier{}, nil, quietLogger(), Options{})

	_, err := org.Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrRootNotFound) {
		t.Fatalf("expected ErrRootNotFound, got %v", err)
	}
}

func TestRun_CanceledBeforeFirstFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cls := &labelClassifier{labels: map[string]string{"a.txt": "notes"}}
	report, err := New(staticExtractor{text: "x"}, cls, nil, quietLogger(), Options{}).Run(ctx, root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Canceled || len(report.Outcomes) != 0 || len(cls.calls) != 0 {
		t.Errorf("expected canceled empty report, got %+v", report)
	}
}

func TestRun_UndecodableUnknownFileIsClassified(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x9c})

	cls := &labelClassifier{labels: map[string]string{"blob.bin": "misc"}}
	org := New(parser.New(parser.Options{}), cls, &scriptedApprover{answer: false}, quietLogger(), Options{})

	if _, err := org.Run(context.Background(), root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cls.calls) != 1 || cls.calls[0].content != parser.Sentinel {
		t.Errorf("expected sentinel content to be classified, got %+v", cls.calls)
	}
}

func TestRun_CorruptKnownFormatSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "broken.pdf"), []byte("not a pdf at all"))

	cls := &labelClassifier{}
	org := New(parser.New(parser.Options{}), cls, &scriptedApprover{answer: true}, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cls.calls) != 0 {
		t.Error("expected no classification for a failed extraction")
	}
	if got := onlyOutcome(t, report).Status; got != StatusExtractFailed {
		t.Errorf("expected extract_failed, got %s", got)
	}
	assertExists(t, filepath.Join(root, "broken.pdf"))
}

func TestRun_DocxEndToEnd(t *testing.T) {
	root := t.TempDir()
	w := docx.New().WithDefaultTheme()
	w.AddParagraph().AddText("Q1 Results")
	w.AddParagraph().AddText("Revenue up")
	f, err := os.Create(filepath.Join(root, "report.docx"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteTo(f); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var userTurn string
	r := chi.NewRouter()
	r.Post("/models/{model}:generateContent", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		userTurn = body.Contents[0].Parts[0].Text
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]string{{
					"text": `{"content":"Quarterly results","label":"reports","filename":"q1-report.docx"}`,
				}}},
			}},
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := classify.NewClient(classify.Config{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	org := New(parser.New(parser.Options{}), client, &scriptedApprover{answer: true}, quietLogger(), Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userTurn != "Q1 Results\nRevenue up\n\nfilename : report.docx" {
		t.Errorf("unexpected user turn %q", userTurn)
	}
	assertExists(t, filepath.Join(root, "reports", "report.docx"))
	if got := onlyOutcome(t, report).Status; got != StatusMoved {
		t.Errorf("expected moved, got %s", got)
	}
}

func TestReport_Counts(t *testing.T) {
	r := &Report{}
	r.add(Outcome{Status: StatusMoved})
	r.add(Outcome{Status: StatusDeclined})
	r.add(Outcome{Status: StatusMoved})

	counts := r.Counts()
	if len(counts) != 2 {
		t.Fatalf("expected 2 statuses, got %+v", counts)
	}
	if counts[0].Status != StatusDeclined || counts[1].Status != StatusMoved || counts[1].Count != 2 {
		t.Errorf("unexpected counts %+v", counts)
	}
	if !StatusMoveFailed.Failed() || StatusDeclined.Failed() {
		t.Error("unexpected Failed classification")
	}

	r.add(Outcome{Status: StatusExtractFailed})
	r.add(Outcome{Status: StatusVanished})
	if got := r.Failures(); got != 1 {
		t.Errorf("expected 1 failure, got %d", got)
	}
}

func TestRun_DebugLogsFormatAndRawResponse(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.txt"), []byte("buy milk"))

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cls := rawClassifier{raw: `{"content":"c","label":"notes","filename":"notes.txt"}`}
	org := New(parser.New(parser.Options{}), cls, nil, log, Options{DryRun: true})

	if _, err := org.Run(context.Background(), root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"format=text", `"label\":\"notes\"`} {
		if !bytes.Contains(logs.Bytes(), []byte(want)) {
			t.Errorf("expected %s in logs:\n%s", want, logs.String())
		}
	}
}

type rawClassifier struct{ raw string }

func (c rawClassifier) Classify(_ context.Context, content, filename string) (classify.Result, error) {
	return classify.Result{Content: content, Label: "notes", Filename: filename, Raw: c.raw}, nil
}

func TestRun_SymlinkLoggedAndLeftAlone(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(t.TempDir(), "outside.txt")
	writeFile(t, target, []byte("elsewhere"))
	writeFile(t, filepath.Join(root, "a.txt"), []byte("x"))
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	cls := &labelClassifier{labels: map[string]string{"a.txt": "notes", "link.txt": "notes"}}
	org := New(staticExtractor{text: "x"}, cls, &scriptedApprover{answer: true}, log, Options{})

	report, err := org.Run(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out := onlyOutcome(t, report); out.Path != filepath.Join(root, "a.txt") {
		t.Errorf("expected only the regular file, got %+v", out)
	}
	if _, err := os.Lstat(link); err != nil {
		t.Errorf("expected symlink left in place: %v", err)
	}
	if !bytes.Contains(logs.Bytes(), []byte("not a regular file, skipping")) || !bytes.Contains(logs.Bytes(), []byte("link.txt")) {
		t.Errorf("expected skipped symlink in logs:\n%s", logs.String())
	}
}
