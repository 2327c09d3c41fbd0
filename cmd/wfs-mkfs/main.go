// Command wfs-mkfs initializes a wfs image: a superblock and a single
// root directory log entry.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/distr1/wfs/internal/wfs"
)

const help = `usage: wfs-mkfs <image>

image must already exist, sized to the desired capacity. mkfs writes
the superblock and a root directory entry into it; any existing
contents past the root entry are ignored, not erased.
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("wfs-mkfs: ")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	image := flag.Arg(0)

	sess, err := wfs.Open(image)
	if err != nil {
		log.Fatalf("open %s: %v", image, err)
	}
	if err := sess.Format(); err != nil {
		log.Fatalf("format %s: %v", image, err)
	}
	if err := sess.Close(); err != nil {
		log.Fatalf("close %s: %v", image, err)
	}
}
