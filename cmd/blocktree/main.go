// Command blocktree is a small front-end over the btree index: it attaches
// to a block file and exposes insert/lookup/update/sanity/display
// subcommands for manual exercising and scripting. It carries no
// algorithmic weight of its own.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jorenk/blocktree/btree"
	"github.com/jorenk/blocktree/buffer"
	"github.com/jorenk/blocktree/disk"
)

const (
	defaultBlockSize = 4096
	defaultPoolSize  = 64
	defaultHotCache  = 1 << 20
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub, args := os.Args[1], os.Args[2:]
	switch sub {
	case "attach":
		runAttach(log, args)
	case "insert":
		runInsert(log, args)
	case "lookup":
		runLookup(log, args)
	case "update":
		runUpdate(log, args)
	case "sanity":
		runSanity(log, args)
	case "display":
		runDisplay(log, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: blocktree <attach|insert|lookup|update|sanity|display> [flags]")
}

type commonFlags struct {
	file      string
	create    bool
	blocksize uint64
	numblocks uint64
	keysize   uint64
	valuesize uint64
	poolsize  int
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.file, "file", "", "path to the block file")
	fs.BoolVar(&c.create, "create", false, "create a fresh index if the file is new")
	fs.Uint64Var(&c.blocksize, "blocksize", defaultBlockSize, "block size in bytes")
	fs.Uint64Var(&c.numblocks, "numblocks", 256, "number of blocks to allocate when creating")
	fs.Uint64Var(&c.keysize, "keysize", 8, "key width in bytes")
	fs.Uint64Var(&c.valuesize, "valuesize", 8, "value width in bytes")
	fs.IntVar(&c.poolsize, "poolsize", defaultPoolSize, "number of pinned buffer frames")
	return c
}

func open(log *slog.Logger, c *commonFlags) (*btree.Index, *buffer.Pool, *disk.BlockDevice, error) {
	if c.file == "" {
		return nil, nil, nil, fmt.Errorf("-file is required")
	}

	dev, err := disk.OpenBlockDevice(c.file, c.blocksize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening block device: %w", err)
	}

	isNew := dev.NumBlocks() == 0
	if c.create && isNew {
		if err := dev.Truncate(c.numblocks); err != nil {
			dev.Close()
			return nil, nil, nil, fmt.Errorf("truncating block device: %w", err)
		}
	}

	pool, err := buffer.NewPool(dev, c.poolsize, defaultHotCache)
	if err != nil {
		dev.Close()
		return nil, nil, nil, fmt.Errorf("building buffer pool: %w", err)
	}

	idx := btree.New(pool, c.keysize, c.valuesize)
	if err := idx.Attach(0, c.create && isNew); err != nil {
		dev.Close()
		return nil, nil, nil, fmt.Errorf("attaching index: %w", err)
	}

	log.Info("attached index", "file", c.file, "rootnode", idx.RootNode(), "numkeys", idx.NumKeys())
	return idx, pool, dev, nil
}

// detachAndFlush writes the superblock and flushes every dirty pinned frame
// to disk. Detach alone only marks blocks dirty in the pool; without a
// flush a mutation never reaches disk until the pool happens to evict the
// frame, which a short-lived CLI invocation never triggers.
func detachAndFlush(idx *btree.Index, pool *buffer.Pool) error {
	if err := idx.Detach(); err != nil {
		return fmt.Errorf("detaching index: %w", err)
	}
	if err := pool.Flush(); err != nil {
		return fmt.Errorf("flushing buffer pool: %w", err)
	}
	return nil
}

func runAttach(log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	c := registerCommon(fs)
	fs.Parse(args)

	idx, pool, dev, err := open(log, c)
	if err != nil {
		log.Error("attach failed", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	if err := detachAndFlush(idx, pool); err != nil {
		log.Error("detach failed", "err", err)
		os.Exit(1)
	}
}

func runInsert(log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	c := registerCommon(fs)
	key := fs.String("key", "", "hex-encoded key")
	value := fs.String("value", "", "hex-encoded value")
	fs.Parse(args)

	keyBytes, err := hex.DecodeString(*key)
	if err != nil {
		log.Error("invalid -key", "err", err)
		os.Exit(2)
	}
	valBytes, err := hex.DecodeString(*value)
	if err != nil {
		log.Error("invalid -value", "err", err)
		os.Exit(2)
	}

	idx, pool, dev, err := open(log, c)
	if err != nil {
		log.Error("open failed", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	if err := idx.Insert(keyBytes, valBytes); err != nil {
		log.Error("insert failed", "err", err)
		os.Exit(1)
	}
	if err := detachAndFlush(idx, pool); err != nil {
		log.Error("detach failed", "err", err)
		os.Exit(1)
	}
	log.Info("inserted", "key", *key, "value", *value)
}

func runLookup(log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	c := registerCommon(fs)
	key := fs.String("key", "", "hex-encoded key")
	fs.Parse(args)

	keyBytes, err := hex.DecodeString(*key)
	if err != nil {
		log.Error("invalid -key", "err", err)
		os.Exit(2)
	}

	idx, _, dev, err := open(log, c)
	if err != nil {
		log.Error("open failed", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	val, err := idx.Lookup(keyBytes)
	if err != nil {
		log.Error("lookup failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(hex.EncodeToString(val))
}

func runUpdate(log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	c := registerCommon(fs)
	key := fs.String("key", "", "hex-encoded key")
	value := fs.String("value", "", "hex-encoded value")
	fs.Parse(args)

	keyBytes, err := hex.DecodeString(*key)
	if err != nil {
		log.Error("invalid -key", "err", err)
		os.Exit(2)
	}
	valBytes, err := hex.DecodeString(*value)
	if err != nil {
		log.Error("invalid -value", "err", err)
		os.Exit(2)
	}

	idx, pool, dev, err := open(log, c)
	if err != nil {
		log.Error("open failed", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	if err := idx.Update(keyBytes, valBytes); err != nil {
		log.Error("update failed", "err", err)
		os.Exit(1)
	}
	if err := detachAndFlush(idx, pool); err != nil {
		log.Error("detach failed", "err", err)
		os.Exit(1)
	}
	log.Info("updated", "key", *key, "value", *value)
}

func runSanity(log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("sanity", flag.ExitOnError)
	c := registerCommon(fs)
	fs.Parse(args)

	idx, _, dev, err := open(log, c)
	if err != nil {
		log.Error("open failed", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	if err := idx.SanityCheck(); err != nil {
		log.Error("sanity check failed", "err", err)
		os.Exit(1)
	}
	log.Info("sanity check passed", "numkeys", idx.NumKeys())
}

func runDisplay(log *slog.Logger, args []string) {
	fs := flag.NewFlagSet("display", flag.ExitOnError)
	c := registerCommon(fs)
	mode := fs.String("mode", "depth", "one of depth, dot, sorted")
	fs.Parse(args)

	idx, _, dev, err := open(log, c)
	if err != nil {
		log.Error("open failed", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	var displayMode btree.DisplayMode
	switch *mode {
	case "depth":
		displayMode = btree.Depth
	case "dot":
		displayMode = btree.DepthDot
	case "sorted":
		displayMode = btree.SortedKeyVal
	default:
		log.Error("unknown -mode", "mode", *mode)
		os.Exit(2)
	}

	if err := idx.Display(os.Stdout, displayMode); err != nil {
		log.Error("display failed", "err", err)
		os.Exit(1)
	}
}
