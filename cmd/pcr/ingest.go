package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/WessleyAI/parentchild/engine/app"
	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/engine/embed"
	"github.com/WessleyAI/parentchild/engine/ingest"
)

var (
	ingestMode     string
	ingestExclude  []string
	ingestNoSave   bool
	ingestProgress bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <glob>...",
	Short: "Index files matching the given patterns",
	Long: `Reads every file matching the patterns (** matches any number of
directories) and indexes each one as a document. The file path is stored
as the "source" metadata key. Parents are saved to the parent store
unless --no-save is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestMode, "mode", "m", "sync", "embedding mode: sync or concurrent")
	ingestCmd.Flags().StringSliceVarP(&ingestExclude, "exclude", "x", nil, "patterns to skip")
	ingestCmd.Flags().BoolVar(&ingestNoSave, "no-save", false, "do not write parents to the parent store")
	ingestCmd.Flags().BoolVar(&ingestProgress, "progress", term.IsTerminal(int(os.Stderr.Fd())), "show a progress bar")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	mode, err := ingest.ParseMode(ingestMode)
	if err != nil {
		return err
	}
	paths, err := expandGlobs(args, ingestExclude)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files match %v", args)
	}
	docs, err := loadDocuments(paths)
	if err != nil {
		return err
	}

	var bar *progressBar
	opts := app.Options{}
	if ingestProgress {
		bar = &progressBar{}
		opts.Progress = bar.update
	}
	a, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.Indexer.AddMode(cmd.Context(), mode, docs, ingest.AddOptions{SaveParents: !ingestNoSave})
	bar.finish()
	if err != nil {
		return err
	}
	cmd.Printf("indexed %d/%d children from %d documents (%d parents, %d failed batches)\n",
		rep.Indexed, rep.Children, len(docs), len(rep.ParentIDs), rep.FailedBatches)
	return rep.Err()
}

// expandGlobs returns the sorted, de-duplicated regular files matching any
// pattern and none of the excludes.
func expandGlobs(patterns, excludes []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return nil, fmt.Errorf("bad pattern %q", p)
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		for _, m := range matches {
			if seen[m] || excluded(m, excludes) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func excluded(path string, excludes []string) bool {
	slashed := filepath.ToSlash(path)
	for _, x := range excludes {
		if ok, _ := doublestar.Match(x, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(x, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

// loadDocuments reads each path into a Document.
func loadDocuments(paths []string) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		docs = append(docs, domain.Document{
			Content:  string(data),
			Metadata: domain.NewMetadata("source", filepath.ToSlash(p), "filename", filepath.Base(p)),
		})
	}
	return docs, nil
}

// progressBar renders embedding progress on stderr. The bar is created on
// the first snapshot, once the total is known. A nil *progressBar is a
// no-op.
type progressBar struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done int
}

func (p *progressBar) update(s embed.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = progressbar.NewOptions(s.Texts,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("embedding"),
			progressbar.OptionSetWidth(32),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	// snapshots from concurrent batches can arrive out of order
	if s.TextsDone > p.done {
		p.done = s.TextsDone
		_ = p.bar.Set(p.done)
	}
}

func (p *progressBar) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
