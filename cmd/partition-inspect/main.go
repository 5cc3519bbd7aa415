// Command partition-inspect is a read-only diagnostic tool over a single
// partition directory on disk, grounded on cmd/tempo-cli's flag-driven,
// tablewriter-rendered inspection commands (spec.md §6 "the engine exposes
// to collaborators ... its Display form for logs").
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/grafana/logstream/offsetstore"
	"github.com/grafana/logstream/persister"
	"github.com/grafana/logstream/rollup"
	"github.com/grafana/logstream/segment"
)

func main() {
	path := flag.String("path", "", "partition directory to inspect")
	consumerOffsetsPath := flag.String("consumer-offsets", "", "consumer_offsets directory (defaults to {path}/consumer_offsets)")
	consumerGroupOffsetsPath := flag.String("consumer-group-offsets", "", "consumer_group_offsets directory (defaults to {path}/consumer_group_offsets)")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "-path is required")
		os.Exit(1)
	}
	if *consumerOffsetsPath == "" {
		*consumerOffsetsPath = *path + "/consumer_offsets"
	}
	if *consumerGroupOffsetsPath == "" {
		*consumerGroupOffsetsPath = *path + "/consumer_group_offsets"
	}

	if err := run(*path, *consumerOffsetsPath, *consumerGroupOffsetsPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(path, consumerOffsetsPath, consumerGroupOffsetsPath string) error {
	counters := rollup.New(nil, nil, nil, nil, nil)
	store := segment.NewStore(path, segment.Limits{}, counters, persister.NewSyncPersister(), nil)
	if err := store.Load(); err != nil {
		return err
	}
	printSegments(store)

	for _, kind := range []struct {
		kind offsetstore.Kind
		dir  string
	}{
		{offsetstore.Consumer, consumerOffsetsPath},
		{offsetstore.ConsumerGroup, consumerGroupOffsetsPath},
	} {
		off := offsetstore.New(kind.kind, kind.dir, persister.NewSyncPersister(), nil)
		if err := off.Load(); err != nil {
			return err
		}
		printOffsets(kind.kind, off)
	}
	return nil
}

func printSegments(store *segment.Store) {
	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"start offset", "end offset", "size", "messages", "active"})

	var rows [][]string
	for _, s := range store.Segments() {
		end, has := s.CurrentOffset()
		endStr := "-"
		if has {
			endStr = strconv.FormatUint(end, 10)
		}
		rows = append(rows, []string{
			strconv.FormatUint(s.StartOffset, 10),
			endStr,
			humanize.Bytes(s.Size),
			strconv.FormatUint(s.MessagesCount, 10),
			strconv.FormatBool(s.IsActive),
		})
	}
	w.AppendBulk(rows)
	w.SetFooter([]string{"", "", humanize.Bytes(store.TotalSize()), "", ""})
	w.Render()
}

func printOffsets(kind offsetstore.Kind, store *offsetstore.Store) {
	fmt.Println(kind.String() + " offsets:")
	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"consumer id", "offset", "path"})

	var rows [][]string
	for _, off := range store.All() {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(off.ConsumerID), 10),
			strconv.FormatUint(off.Value, 10),
			off.Path,
		})
	}
	w.AppendBulk(rows)
	w.Render()
}
