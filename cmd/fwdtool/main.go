// Command fwdtool builds and inspects forward-index segments offline.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/fs"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
		"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/logger"
)

// runContext is bound into every command's Run.
type runContext struct {
	Suffix string
	Out    io.Writer
}

var CLI struct {
	LogLevel string `name:"log-level" default:"warn" help:"Log level (debug, info, warn, error)"`
	Suffix   string `name:"suffix" help:"Forward index suffix"`

	Build BuildCmd `cmd:"" help:"Build one segment from a JSON-lines document file"`
	Check CheckCmd `cmd:"" help:"Verify the checksums of every segment in a directory"`
	Dump  DumpCmd  `cmd:"" help:"Print the tokens of a segment field as JSON lines"`
	Stat  StatCmd  `cmd:"" help:"Print segment summaries"`
}

// BuildCmd indexes every line of Input, one ingest event per line, into a
// single new segment in Dir.
type BuildCmd struct {
	Input    string `name:"input" short:"i" required:"" type:"existingfile" help:"JSON-lines file of ingest events"`
	Dir      string `name:"dir" short:"d" required:"" type:"path" help:"Segment directory"`
	Delegate string `name:"delegate" default:"Lucene90" help:"Host segment codec name"`
}

func (c *BuildCmd) Run(rc *runContext) error {
	suffix, out := rc.Suffix, rc.Out
	engine, err := indexer.NewEngine(
		config.IndexerConfig{DataDir: c.Dir},
		config.ForwardIndexConfig{Suffix: suffix, Delegate: c.Delegate},
		indexer.Options{},
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	f, err := os.Open(c.Input)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	line, docs := 0, 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev ingestion.IngestEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if ev.DocumentID == "" {
			return fmt.Errorf("line %d: missing document_id", line)
		}
		if err := engine.IndexDocument(ctx, ev.DocumentID, ev.Document()); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		docs++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", c.Input, err)
	}
	if err := engine.Flush(ctx); err != nil {
		return err
	}
	segs := engine.Segments()
	if docs == 0 || len(segs) == 0 {
		fmt.Fprintln(out, "no documents")
		return nil
	}
	fmt.Fprintf(out, "%s: %d documents\n", segs[len(segs)-1].Name, docs)
	return nil
}

// CheckCmd opens every segment in Dir and verifies its checksums.
type CheckCmd struct {
	Dir string `arg:"" type:"existingdir" help:"Segment directory"`
}

func (c *CheckCmd) Run(rc *runContext) error {
	suffix, out := rc.Suffix, rc.Out
	names, err := segment.List(fs.Default, c.Dir, suffix)
	if err != nil {
		return err
	}
	bad := 0
	for _, name := range names {
		err := withReader(c.Dir, name, suffix, func(r *segment.Reader) error {
			return r.CheckIntegrity()
		})
		if err != nil {
			bad++
			fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", name)
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d segments failed", bad, len(names))
	}
	return nil
}

// DumpCmd prints every token of one field, in document then id order.
type DumpCmd struct {
	Dir     string `arg:"" type:"existingdir" help:"Segment directory"`
	Segment string `arg:"" help:"Segment name"`
	Field   string `arg:"" help:"Field name"`
}

type dumpLine struct {
	Doc       int                 `json:"doc"`
	ID        int                 `json:"id"`
	Parent    *int                `json:"parent,omitempty"`
	Shape     string              `json:"shape"`
	Start     int                 `json:"start"`
	End       int                 `json:"end"`
	Positions []int               `json:"positions,omitempty"`
	Offset    *payload.OffsetPair `json:"offset,omitempty"`
	Payload   []byte              `json:"payload,omitempty"`
	Term      string              `json:"term"`
	Tag       string              `json:"tag"`
}

func newDumpLine(doc int, tok segment.Token, term string) dumpLine {
	lo, hi := tok.Span()
	l := dumpLine{
		Doc:     doc,
		ID:      tok.ID,
		Shape:   tok.Shape.String(),
		Start:   lo,
		End:     hi,
		Offset:  tok.Offset,
		Payload: tok.Payload,
		Term:    term,
		Tag:     tok.Tag,
	}
	if tok.HasParent {
		p := tok.Parent
		l.Parent = &p
	}
	if tok.Shape == payload.ShapeSet {
		l.Positions = tok.Positions
	}
	return l
}

func (c *DumpCmd) Run(rc *runContext) error {
	suffix, out := rc.Suffix, rc.Out
	return withReader(c.Dir, c.Segment, suffix, func(r *segment.Reader) error {
		v := r.Terms(c.Field)
		if v == nil {
			return fmt.Errorf("segment %s has no field %q", c.Segment, c.Field)
		}
		docs, err := v.Docs()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for _, doc := range docs {
			info, err := v.Document(doc)
			if err != nil {
				return err
			}
			tokens, err := v.ByPositionRange(doc, info.MinPosition, info.MaxPosition)
			if err != nil {
				return err
			}
			for _, tok := range tokens {
				term, err := v.ResolveTerm(tok.TermRef)
				if err != nil {
					return err
				}
				if err := enc.Encode(newDumpLine(doc, tok, term)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// StatCmd prints the summary of every segment in Dir as JSON.
type StatCmd struct {
	Dir string `arg:"" type:"existingdir" help:"Segment directory"`
}

func (c *StatCmd) Run(rc *runContext) error {
	suffix, out := rc.Suffix, rc.Out
	names, err := segment.List(fs.Default, c.Dir, suffix)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, name := range names {
		err := withReader(c.Dir, name, suffix, func(r *segment.Reader) error {
			return enc.Encode(r.Stat())
		})
		if err != nil {
			return fmt.Errorf("segment %s: %w", name, err)
		}
	}
	return nil
}

func withReader(dir, name, suffix string, fn func(*segment.Reader) error) error {
	r, err := segment.Open(dir, name, suffix, segment.ReaderOptions{})
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("fwdtool"),
		kong.Description("Build and inspect forward-index segments"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	logger.Setup(CLI.LogLevel, "text")
	slog.Debug("running command", "command", ctx.Command())
	err := ctx.Run(&runContext{Suffix: CLI.Suffix, Out: os.Stdout})
	ctx.FatalIfErrorf(err)
}
