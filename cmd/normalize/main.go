package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"deserveiq/backend/internal/explain"
	"deserveiq/backend/internal/util"
)

const maxLineBytes = 16 << 20

func main() {
	util.ConfigureLogging()

	var (
		inPath  = flag.String("in", "-", "JSON lines input file, - for stdin")
		outPath = flag.String("out", "-", "Output file for canonical explanations, - for stdout")
		field   = flag.String("field", "", "Explanation key inside each JSON line; empty means the line is the explanation")
		workers = flag.Int("workers", util.EnvInt("NORMALIZE_WORKERS", 4), "Concurrent normalizers")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, closeIn, err := openInput(*inPath)
	if err != nil {
		logrus.Fatalf("open input: %v", err)
	}
	defer closeIn()

	out, closeOut, err := openOutput(*outPath)
	if err != nil {
		logrus.Fatalf("open output: %v", err)
	}

	timer := util.StartTimer()
	summary, err := run(ctx, in, out, *field, *workers)
	if cerr := closeOut(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		logrus.Fatalf("normalize: %v", err)
	}

	fields := logrus.Fields{
		"lines":        summary.Lines,
		"unstructured": summary.Unstructured,
		"duration_ms":  timer.ElapsedMs(),
	}
	for _, shape := range explain.Shapes {
		if n := summary.Shapes[shape]; n > 0 {
			fields[shape.String()] = n
		}
	}
	logrus.WithFields(fields).Info("explanations normalized")
}

// summary counts what a run saw.
type summary struct {
	Lines        int
	Unstructured int
	Shapes       map[explain.Shape]int
}

func run(ctx context.Context, in io.Reader, out io.Writer, field string, workers int) (summary, error) {
	raws, err := readLines(in, field)
	if err != nil {
		return summary{}, err
	}

	n := explain.New(explain.WithLogger(logrus.StandardLogger()))
	results, err := n.NormalizeAll(ctx, raws, workers)
	if err != nil {
		return summary{}, err
	}

	sum := summary{Lines: len(results), Shapes: make(map[explain.Shape]int)}
	writer := bufio.NewWriter(out)
	encoder := json.NewEncoder(writer)
	for _, res := range results {
		sum.Shapes[res.Shape]++
		if res.Explanation.Unstructured() {
			sum.Unstructured++
		}
		if err := encoder.Encode(res.Explanation); err != nil {
			return sum, fmt.Errorf("write explanation: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return sum, fmt.Errorf("flush output: %w", err)
	}
	return sum, nil
}

func readLines(in io.Reader, field string) ([]any, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var raws []any
	for scanner.Scan() {
		raws = append(raws, lineValue(scanner.Text(), field))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return raws, nil
}

// lineValue decodes one input line. Lines that are not JSON are kept as text.
func lineValue(line, field string) any {
	var decoded any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		return line
	}
	if field == "" {
		return decoded
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return decoded
	}
	return obj[field]
}

func openInput(path string) (io.Reader, func(), error) {
	if strings.TrimSpace(path) == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if strings.TrimSpace(path) == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		if !os.IsExist(err) {
			return nil, nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}
