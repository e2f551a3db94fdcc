package main

import (
	"bytes"
	"flag"
	"os"

	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/util"
	"go.uber.org/zap"
)

func main() {
	var inPath string
	var outPath string
	var dumpPath string
	var wordSize int
	flag.StringVar(&inPath, "in", "", "YAML binding table to compile")
	flag.StringVar(&outPath, "out", binding.Path, "binary binding table to write")
	flag.StringVar(&dumpPath, "dump", "", "print this binary binding table as YAML and exit")
	flag.IntVar(&wordSize, "word-size", binding.NativeLayout().WordSize, "word size of the target (4 or 8)")
	flag.Parse()
	util.SetupLog()
	defer zap.S().Sync()

	l := binding.Layout{WordSize: wordSize}
	if dumpPath != "" {
		f, err := os.Open(dumpPath)
		if err != nil {
			zap.S().Fatalf("opening %s failed: %s", dumpPath, err)
		}
		defer f.Close()
		err = dump(f, os.Stdout, l)
		if err != nil {
			zap.S().Fatalf("decoding %s failed: %s", dumpPath, err)
		}
		return
	}
	if inPath == "" {
		zap.S().Fatal("-in or -dump is required")
	}
	in, err := os.Open(inPath)
	if err != nil {
		zap.S().Fatalf("opening %s failed: %s", inPath, err)
	}
	defer in.Close()
	var buf bytes.Buffer
	err = compile(in, &buf, l)
	if err != nil {
		zap.S().Fatalf("compiling %s failed: %s", inPath, err)
	}
	// replace atomically
	tmp := outPath + ".tmp"
	err = os.WriteFile(tmp, buf.Bytes(), 0644)
	if err != nil {
		zap.S().Fatalf("writing %s failed: %s", tmp, err)
	}
	err = os.Rename(tmp, outPath)
	if err != nil {
		zap.S().Fatalf("renaming to %s failed: %s", outPath, err)
	}
	zap.S().Infof("wrote %s (%d bytes).", outPath, buf.Len())
}
