// SSTable dump utility.
//
// sstdump prints the entries of an SSTable, one line per internal key.
//
//	sstdump [-count] <sst-file>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/willzeng274/MidDB/internal/dbformat"
	"github.com/willzeng274/MidDB/internal/table"
	"github.com/willzeng274/MidDB/internal/vfs"
)

func main() {
	countOnly := flag.Bool("count", false, "print only the entry count")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: sstdump [-count] <sst-file>")
		os.Exit(1)
	}

	file, err := vfs.Default().OpenRandomAccess(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		os.Exit(1)
	}

	reader, err := table.NewReader(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading table: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = reader.Close() }()

	count := 0
	it := reader.NewIter()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
		if *countOnly {
			continue
		}
		parsed, err := dbformat.ParseInternalKey(it.Key())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Malformed key at entry %d: %v\n", count, err)
			os.Exit(1)
		}
		fmt.Printf("%q @ %d : %s => %q\n", parsed.UserKey, parsed.Sequence, parsed.Kind, it.Value())
	}
	if err := it.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "Iteration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d entries\n", count)
}
