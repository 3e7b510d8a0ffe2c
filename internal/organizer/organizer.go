package organizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgallion1/docsort/internal/budget"
	"github.com/dgallion1/docsort/internal/classify"
)

// ErrRootNotFound is returned when the root folder does not exist.
var ErrRootNotFound = errors.New("path not found")

// Extractor turns a file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// formatNamer is implemented by extractors that can name the strategy a
// path dispatches to.
type formatNamer interface {
	Format(path string) string
}

type Options struct {
	OnConflict ConflictPolicy

	// DryRun logs each proposed move and never prompts or moves.
	DryRun bool

	// MaxContentTokens truncates extracted text before classification.
	// 0 disables truncation.
	MaxContentTokens int
}

// Organizer sorts the files under a root folder into label folders, one file
// at a time.
type Organizer struct {
	extractor  Extractor
	classifier classify.Classifier
	approver   Approver
	mover      *Mover
	log        *slog.Logger
	opts       Options
}

func New(extractor Extractor, classifier classify.Classifier, approver Approver, log *slog.Logger, opts Options) *Organizer {
	if log == nil {
		log = slog.Default()
	}
	if approver == nil {
		approver = AutoApprover{}
	}
	return &Organizer{
		extractor:  extractor,
		classifier: classifier,
		approver:   approver,
		mover:      NewMover(opts.OnConflict),
		log:        log,
		opts:       opts,
	}
}

// Run processes every regular file under root. Per-file failures are logged
// and recorded in the report; only an unusable root returns an error. A
// canceled context stops the run before the next file.
func (o *Organizer) Run(ctx context.Context, root string) (*Report, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	files, err := snapshot(abs, o.log)
	if err != nil {
		return nil, err
	}

	report := &Report{Root: abs, Started: time.Now()}
	o.log.Info("organizing folder", "root", abs, "files", len(files), "dry_run", o.opts.DryRun)

	for _, path := range files {
		if ctx.Err() != nil {
			report.Canceled = true
			o.log.Warn("run canceled", "remaining", len(files)-len(report.Outcomes))
			break
		}
		report.add(o.processFile(ctx, abs, path))
	}

	report.Duration = time.Since(report.Started)
	o.log.Info("run complete",
		"files", len(report.Outcomes),
		"moved", report.Count(StatusMoved),
		"failed", report.Failures(),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// processFile drives one file through extract, classify, decide, confirm
// and move. Every return is a terminal state and logs exactly one line.
func (o *Organizer) processFile(ctx context.Context, root, path string) Outcome {
	log := o.log.With("path", path)
	if f, ok := o.extractor.(formatNamer); ok {
		log = log.With("format", f.Format(path))
	}
	out := Outcome{Path: path}

	if _, err := os.Lstat(path); err != nil {
		log.Warn("file disappeared before processing", "error", err)
		out.Status = StatusVanished
		return out
	}

	text, err := o.extractor.Extract(ctx, path)
	if err != nil {
		log.Error("extraction failed, skipping", "error", err)
		return failed(out, StatusExtractFailed, err)
	}

	if o.opts.MaxContentTokens > 0 {
		if cut, truncated := budget.Truncate(text, o.opts.MaxContentTokens); truncated {
			log.Debug("content truncated", "estimated_tokens", budget.EstimateTokens(text), "limit", o.opts.MaxContentTokens)
			text = cut
		}
	}

	res, err := o.classifier.Classify(ctx, text, filepath.Base(path))
	if err != nil {
		log.Error("classification failed, skipping", "error", err)
		return failed(out, StatusClassifyFailed, err)
	}
	log.Debug("classifier response", "raw", res.Raw)
	out.Label = res.Label

	label, err := SanitizeLabel(res.Label)
	if err != nil {
		log.Error("unusable label, skipping", "label", res.Label, "error", err)
		return failed(out, StatusInvalidLabel, err)
	}
	out.Label = label

	if alreadyPlaced(root, path, label) {
		log.Info("file already in correct folder", "label", label)
		out.Status = StatusAlreadyPlaced
		out.Target = filepath.Dir(path)
		return out
	}

	dir := targetFolder(path, label)
	out.Target = dir

	if o.opts.DryRun {
		log.Info("would move file", "label", label, "target", dir)
		out.Status = StatusPlanned
		return out
	}

	ok, err := o.approver.Approve(ctx, Proposal{
		Path:      path,
		Name:      filepath.Base(path),
		Label:     label,
		TargetDir: dir,
	})
	if err != nil {
		log.Warn("no answer, leaving file in place", "error", err)
		out.Status = StatusDeclined
		out.Error = err.Error()
		return out
	}
	if !ok {
		log.Info("move declined", "label", label)
		out.Status = StatusDeclined
		return out
	}

	dest, err := o.mover.Move(path, dir)
	if err != nil {
		log.Error("move failed", "target", dir, "error", err)
		return failed(out, StatusMoveFailed, err)
	}
	log.Info("moved file", "target", dest)
	out.Status = StatusMoved
	out.Target = dest
	return out
}

func failed(out Outcome, status FileStatus, err error) Outcome {
	out.Status = status
	out.Error = err.Error()
	return out
}
