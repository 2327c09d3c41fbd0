// Command wfs-fsck compacts a wfs image offline: it rewrites the image
// so that only the latest live log entry per inode remains.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/distr1/wfs/internal/wfs"
)

const help = `usage: wfs-fsck [-backup path] <image>

Compacts image: the compacted image is written to a temporary file and
renamed over image, so that afterwards it contains only the most
recent non-deleted log entry for every inode, preserving inode numbers
and file contents. Requires exclusive access; no mount may be active.
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("wfs-fsck: ")
	backup := flag.String("backup", "", "write a gzip-compressed copy of the pre-compaction image to this path before rewriting")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	image := flag.Arg(0)

	verbose := isatty.IsTerminal(os.Stdout.Fd())
	if verbose {
		fmt.Printf("compacting %s\n", image)
	}

	if err := wfs.Compact(image, wfs.CompactOptions{BackupPath: *backup}); err != nil {
		log.Fatalf("compact %s: %v", image, err)
	}

	if verbose {
		fmt.Println("done")
	}
}
