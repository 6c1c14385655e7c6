// MANIFEST dump utility.
//
// manifestdump decodes the VersionEdits of a MANIFEST file and prints
// each edit plus the final per-level live file set.
//
//	manifestdump <manifest-file>
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/willzeng274/MidDB/internal/manifest"
	"github.com/willzeng274/MidDB/internal/wal"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: manifestdump <manifest-file>")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	reader := wal.NewStrictReader(bytes.NewReader(data))
	editCount := 0
	liveFiles := make(map[int]map[uint64]uint64) // level -> fileNum -> size

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("Error at edit %d: %v\n", editCount+1, err)
			break
		}

		ve := &manifest.VersionEdit{}
		if err := ve.Decode(record); err != nil {
			fmt.Printf("Decode error at edit %d: %v\n", editCount+1, err)
			break
		}
		editCount++

		fmt.Printf("Edit %d:\n", editCount)
		if ve.HasComparator {
			fmt.Printf("  comparator: %s\n", ve.Comparator)
		}
		if ve.HasLogNumber {
			fmt.Printf("  log number: %d\n", ve.LogNumber)
		}
		if ve.HasNextFileNumber {
			fmt.Printf("  next file number: %d\n", ve.NextFileNumber)
		}
		if ve.HasLastSequence {
			fmt.Printf("  last sequence: %d\n", ve.LastSequence)
		}
		for _, df := range ve.DeletedFiles {
			fmt.Printf("  delete: L%d %06d\n", df.Level, df.FileNumber)
			delete(liveFiles[df.Level], df.FileNumber)
		}
		for _, nf := range ve.NewFiles {
			fmt.Printf("  add: L%d %06d (%d bytes) [%q .. %q]\n",
				nf.Level, nf.Meta.FileNumber, nf.Meta.FileSize,
				userKey(nf.Meta.Smallest), userKey(nf.Meta.Largest))
			if liveFiles[nf.Level] == nil {
				liveFiles[nf.Level] = make(map[uint64]uint64)
			}
			liveFiles[nf.Level][nf.Meta.FileNumber] = nf.Meta.FileSize
		}
	}

	fmt.Printf("\n%d edits decoded. Live files:\n", editCount)
	for level := 0; level < 7; level++ {
		files := liveFiles[level]
		if len(files) == 0 {
			continue
		}
		nums := make([]uint64, 0, len(files))
		for num := range files {
			nums = append(nums, num)
		}
		sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
		fmt.Printf("  L%d:", level)
		for _, num := range nums {
			fmt.Printf(" %06d", num)
		}
		fmt.Println()
	}
}

func userKey(internalKey []byte) []byte {
	if len(internalKey) < 8 {
		return internalKey
	}
	return internalKey[:len(internalKey)-8]
}
