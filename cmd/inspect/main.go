package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"upsync/pkg/logger"
	"upsync/pkg/prefetch"
	"upsync/pkg/store"
	"upsync/pkg/syncq"
)

// inspect dumps the queue and cache snapshots from a snapshot store. Run
// it against a stopped daemon's --db directory to see what would be
// restored on the next start.
func main() {
	var p string
	var which string
	flag.StringVar(&p, "path", "", "snapshot store path to open")
	flag.StringVar(&which, "snapshot", "all", "snapshot to dump: queue, cache or all")
	flag.Parse()
	if p == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.Init()

	eng, err := store.OpenPebble(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store at %s: %v\n", p, err)
		os.Exit(1)
	}
	defer eng.Close()

	code := 0
	if which == "queue" || which == "all" {
		if err := dump(eng, syncq.SnapshotKey); err != nil {
			code = 1
		}
	}
	if which == "cache" || which == "all" {
		if err := dump(eng, prefetch.SnapshotKey); err != nil {
			code = 1
		}
	}
	os.Exit(code)
}

func dump(eng *store.Pebble, key string) error {
	raw, err := eng.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Printf("== %s ==\n(no snapshot)\n\n", key)
			return nil
		}
		fmt.Fprintf(os.Stderr, "read %s: %v\n", key, err)
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintf(os.Stderr, "snapshot %s is not valid JSON: %v\n", key, err)
		return err
	}
	fmt.Printf("== %s ==\n%s\n\n", key, buf.String())
	return nil
}
