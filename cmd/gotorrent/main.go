// Command gotorrent downloads the file set described by a .torrent file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cormang/gotorrent/download"
	"github.com/cormang/gotorrent/metainfo"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <torrent-file>\n", os.Args[0])
}

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}
	if flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "error: expected exactly one torrent file argument")
		os.Exit(1)
	}

	path := flag.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open torrent file")
	}
	defer f.Close()

	info, err := metainfo.Parse(f)
	if err != nil {
		logrus.WithError(err).Fatal("failed to parse torrent file")
	}

	opts := download.Options{
		ScratchDir: ".gotorrent-" + fmt.Sprintf("%x", info.InfoHash[:4]),
		OutputDir:  ".",
		ListenPort: 6881,
	}

	if err := download.Run(context.Background(), info, opts); err != nil {
		logrus.WithError(err).Fatal("download failed")
	}
	fmt.Println("download complete:", info.Files)
}
