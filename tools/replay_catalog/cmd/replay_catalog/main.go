package main

import (
	"flag"
	"fmt"
	"os"

	replaycatalog "robolab/simserver/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay sessions")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (schema %d)\n", entry.Header.SessionID, entry.Header.SchemaVersion)
		fmt.Printf("  seed: %d\n", entry.Header.RandomSeed)
		fmt.Printf("  arena: %d colored areas, %d obstacles\n", entry.Areas, entry.Obstacles)
		fmt.Printf("  manifest: %s\n", entry.ManifestPath)
	}
}
