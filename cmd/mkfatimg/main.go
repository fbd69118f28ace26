// Command mkfatimg builds a bootable FAT16 disk image from a host
// skeleton directory, the hosted-simulator equivalent of the teacher's
// mkfs command: format a blank volume, then walk a directory tree on
// the host and replicate it into the image one file and directory at a
// time.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sabos/src/fat"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mkfatimg -out <image> [-sectors N] <skeldir>\n")
	os.Exit(1)
}

// addFiles walks skelDir on the host and replicates its contents into
// fs, creating directories before the files and subdirectories under
// them, the same top-down order the teacher's mkfs addfiles walk
// relies on.
func addFiles(fs *fat.Fs_t, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("accessing %s: %w", path, err)
		}
		rel := strings.TrimPrefix(path, skelDir)
		rel = filepath.ToSlash(rel)
		if rel == "" {
			return nil
		}
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}

		if d.IsDir() {
			if ferr := fs.CreateDir(rel); ferr != 0 {
				return fmt.Errorf("mkdir %s: %s", rel, ferr)
			}
			return nil
		}

		if ferr := fs.CreateFile(rel); ferr != 0 {
			return fmt.Errorf("create %s: %s", rel, ferr)
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil && rerr != io.EOF {
			return fmt.Errorf("reading %s: %w", path, rerr)
		}
		if ferr := fs.WriteFile(rel, data); ferr != 0 {
			return fmt.Errorf("writing %s: %s", rel, ferr)
		}
		return nil
	})
}

func main() {
	out := flag.String("out", "", "output image path")
	sectors := flag.Uint64("sectors", 16384, "sector count of the formatted volume")
	flag.Usage = usage
	flag.Parse()

	if *out == "" || flag.NArg() != 1 {
		usage()
	}
	skelDir := flag.Arg(0)

	disk := fat.FormatFat16(*sectors)
	fs, ferr := fat.NewFs(disk)
	if ferr != 0 {
		fmt.Fprintf(os.Stderr, "mkfatimg: formatting volume: %s\n", ferr)
		os.Exit(1)
	}

	if err := addFiles(fs, skelDir); err != nil {
		fmt.Fprintf(os.Stderr, "mkfatimg: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, disk.Bytes(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "mkfatimg: writing %s: %v\n", *out, err)
		os.Exit(1)
	}
}
