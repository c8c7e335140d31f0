package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// CSVWriter appends trace records to CSV streams, writing the header once.
type CSVWriter struct {
	samples io.Writer
	events  io.Writer

	samplesHeaderWritten bool
	eventsHeaderWritten  bool
}

// NewCSVWriter writes samples and events to the given writers. Either may be
// nil to drop that record type.
func NewCSVWriter(samples, events io.Writer) *CSVWriter {
	return &CSVWriter{samples: samples, events: events}
}

// WriteSamples appends population samples.
func (w *CSVWriter) WriteSamples(records []PopulationSample) error {
	if w == nil || w.samples == nil || len(records) == 0 {
		return nil
	}
	if err := marshal(records, w.samples, &w.samplesHeaderWritten); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}
	return nil
}

// WriteEvents appends event records.
func (w *CSVWriter) WriteEvents(records []EventRecord) error {
	if w == nil || w.events == nil || len(records) == 0 {
		return nil
	}
	if err := marshal(records, w.events, &w.eventsHeaderWritten); err != nil {
		return fmt.Errorf("writing events: %w", err)
	}
	return nil
}

func marshal(records any, out io.Writer, headerWritten *bool) error {
	if !*headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, out); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	// Subsequent writes skip headers
	return gocsv.MarshalWithoutHeaders(records, out)
}

// OutputFiles owns the CSV files of one run directory.
type OutputFiles struct {
	dir         string
	samplesFile *os.File
	eventsFile  *os.File
	*CSVWriter
}

// CreateOutputFiles creates dir and opens samples.csv and events.csv in it.
// Returns nil if dir is empty (output disabled).
func CreateOutputFiles(dir string) (*OutputFiles, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	samples, err := os.Create(filepath.Join(dir, "samples.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating samples.csv: %w", err)
	}
	events, err := os.Create(filepath.Join(dir, "events.csv"))
	if err != nil {
		samples.Close()
		return nil, fmt.Errorf("creating events.csv: %w", err)
	}
	return &OutputFiles{
		dir:         dir,
		samplesFile: samples,
		eventsFile:  events,
		CSVWriter:   NewCSVWriter(samples, events),
	}, nil
}

// Dir returns the output directory path.
func (o *OutputFiles) Dir() string {
	if o == nil {
		return ""
	}
	return o.dir
}

// Close closes both files.
func (o *OutputFiles) Close() error {
	if o == nil {
		return nil
	}
	var firstErr error
	for _, f := range []*os.File{o.samplesFile, o.eventsFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
