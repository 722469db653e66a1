// Command enrich merges an owner-intelligence CSV feed into the corpus
// snapshot file offline, for deployments where feeds arrive out of band
// instead of through POST /api/corpus/enrich.
//
// Usage:
//
//	enrich <feed.csv> [snapshot.json]
//
// The snapshot path defaults to CORPUS_SNAPSHOT_PATH or data/corpus/snapshot.json.
// Exit codes: 0 merged, 1 I/O or snapshot failure, 2 malformed feed.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/corpus"
	"github.com/mkre153/dealfinder-pro-sub000/internal/enrich"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: enrich <feed.csv> [snapshot.json]")
		os.Exit(1)
	}
	feedPath := os.Args[1]

	snapshotPath := "data/corpus/snapshot.json"
	if v := os.Getenv("CORPUS_SNAPSHOT_PATH"); v != "" {
		snapshotPath = v
	}
	if len(os.Args) > 2 {
		snapshotPath = os.Args[2]
	}

	fmt.Println("=========================================================")
	fmt.Println(" Corpus Enrichment")
	fmt.Println("=========================================================")
	fmt.Printf("Feed:     %s\n", feedPath)
	fmt.Printf("Snapshot: %s\n", snapshotPath)
	fmt.Println("---------------------------------------------------------")

	snap, err := corpus.LoadFile(snapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: loading snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Snapshot loaded: %d properties, generated %s\n",
		len(snap.Properties), snap.GeneratedAt.Format(time.RFC3339))

	f, err := os.Open(feedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: opening feed: %v\n", err)
		os.Exit(1)
	}
	feed, err := enrich.ParseFeed(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: malformed feed: %v\n", err)
		os.Exit(2)
	}

	merged, report := enrich.Merge(snap, feed, time.Now().UTC())

	// Keep a copy of the superseded snapshot when an archive dir is set.
	if dir := os.Getenv("ARCHIVE_DIR"); dir != "" {
		archive := corpus.NewLocalArchive(dir)
		if err := archive.Save(context.Background(), snap); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: archiving superseded snapshot failed: %v\n", err)
		} else {
			fmt.Printf("Superseded snapshot archived to %s\n", dir)
		}
	}

	if err := corpus.SaveFile(snapshotPath, merged); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: persisting snapshot: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---------------------------------------------------------")
	fmt.Printf("Feed records: %d\n", report.FeedRecords)
	fmt.Printf("Enriched:     %d\n", report.Enriched)
	fmt.Printf("Unmatched:    %d\n", report.Unmatched)
	fmt.Printf("Skipped rows: %d\n", len(feed.Skipped))
	for _, issue := range feed.Skipped {
		fmt.Printf("  line %d: %s\n", issue.Line, issue.Reason)
	}
	fmt.Println("=========================================================")
	fmt.Printf("Snapshot written: %s (generated %s)\n",
		snapshotPath, merged.GeneratedAt.Format(time.RFC3339))
}
