// Command wfs-mount serves filesystem operations against a wfs image by
// bridging it to the kernel's userspace filesystem support.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/distr1/wfs/internal/wfs"
	"github.com/distr1/wfs/internal/wfsfuse"
)

const help = `usage: wfs-mount <image> <mountpoint>

Mounts image at mountpoint. Every mutation (mknod, mkdir, write, unlink)
appends a new log entry to image; reads do not modify it. Unmounts
cleanly on SIGINT/SIGTERM.
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("wfs-mount: ")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	image := flag.Arg(0)
	mountpoint := flag.Arg(1)

	sess, err := wfs.Open(image)
	if err != nil {
		log.Fatalf("open %s: %v", image, err)
	}
	if sb := sess.Superblock(); sb.Magic != wfs.Magic {
		log.Fatalf("%s: not a wfs image (bad magic)", image)
	}

	server := fuseutil.NewFileSystemServer(wfsfuse.New(sess))
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName: "wfs",
	})
	if err != nil {
		log.Fatalf("fuse.Mount: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals terminate immediately, in case unmount hangs.
		signal.Stop(sig)
		syscall.Unmount(mountpoint, 0)
		cancel()
	}()

	if err := mfs.Join(ctx); err != nil {
		log.Fatalf("Join: %v", err)
	}
	if err := sess.Close(); err != nil {
		log.Fatalf("close %s: %v", image, err)
	}
}
