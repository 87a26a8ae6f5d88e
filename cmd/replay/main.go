// Command replay runs a newline-delimited capture of raw stream payloads
// through the same normalization the ingest service uses and reports what
// would be accepted. With -publish it also seeds a Kafka source topic with
// the raw lines, for local runs and integration fixtures.
//
// Usage:
//
//	go run ./cmd/replay \
//	  -in testdata/capture.jsonl \
//	  -out data/mock/records.json \
//	  -publish -brokers localhost:9092 -topic raw-posts
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	kafkaadapter "github.com/couchcryptid/sentinel-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/sentinel-ingest/internal/config"
	"github.com/couchcryptid/sentinel-ingest/internal/domain"
	"github.com/couchcryptid/sentinel-ingest/internal/observability"
	"github.com/couchcryptid/sentinel-ingest/internal/pipeline"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/jonboulle/clockwork"
)

const maxLineBytes = 1 << 20

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Flag defaults below read KAFKA_* so env files must load first.
	if _, err := config.LoadEnvFiles(config.DefaultEnvFiles...); err != nil {
		return fmt.Errorf("reading env files: %w", err)
	}

	in := flag.String("in", "", "newline-delimited JSON capture to replay")
	out := flag.String("out", "", "optional output path for accepted records as JSON")
	publish := flag.Bool("publish", false, "publish raw lines to the Kafka source topic")
	brokers := flag.String("brokers", sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "comma-separated Kafka brokers")
	topic := flag.String("topic", sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-posts"), "Kafka source topic")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}

	// Fixed ingestion clock so records without created_at are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2018, time.October, 10, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	lines, err := readLines(*in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *in, err)
	}
	log.Printf("read %d lines", len(lines))

	res := replay(context.Background(), lines)
	printStats(res)

	if *out != "" {
		if err := writeJSON(*out, res.records); err != nil {
			return fmt.Errorf("writing records: %w", err)
		}
		log.Printf("wrote records: %s", *out)
	}

	if *publish {
		logger := observability.NewLoggerTo(os.Stderr, "info", "text")
		w := kafkaadapter.NewTopicWriter(sharedcfg.ParseBrokers(*brokers), *topic, logger)
		defer w.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.WriteRaw(ctx, lines...); err != nil {
			return fmt.Errorf("publishing to %s: %w", *topic, err)
		}
		log.Printf("published %d lines to %s", len(lines), *topic)
	}
	return nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	return lines, scanner.Err()
}

// replayResult holds the outcome of normalizing a capture.
type replayResult struct {
	records  []domain.Record
	dropped  map[string]int
	exact    int
	centroid int
}

func replay(ctx context.Context, lines [][]byte) replayResult {
	t := pipeline.NewTransformer()
	res := replayResult{dropped: map[string]int{}}
	for i, line := range lines {
		rec, err := t.Transform(ctx, domain.RawEvent{Value: line, Offset: int64(i)})
		if err != nil {
			res.dropped[pipeline.DropReason(err)]++
			continue
		}
		if rec.Exact {
			res.exact++
		} else {
			res.centroid++
		}
		res.records = append(res.records, rec)
	}
	return res
}

func printStats(res replayResult) {
	total := len(res.records)
	for _, n := range res.dropped {
		total += n
	}
	fmt.Println("\n=== Replay stats ===")
	fmt.Printf("Total: %d\n", total)
	fmt.Printf("Accepted: %d (exact=%d, centroid=%d)\n", len(res.records), res.exact, res.centroid)
	fmt.Printf("Dropped: malformed=%d, missing_id=%d, no_location=%d\n",
		res.dropped[observability.DropMalformed],
		res.dropped[observability.DropMissingID],
		res.dropped[observability.DropNoLocation])
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
