// Command emu boots an RV32IMA kernel image against a cached,
// file-backed RAM image, the way cmd/vm in the teacher repo boots a
// bytecode file against its own toy ISA.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassosimone/rv32ima/pkg/backing"
	"github.com/bassosimone/rv32ima/pkg/hostio"
	"github.com/bassosimone/rv32ima/pkg/platform"
)

func main() {
	log.SetFlags(0)

	kernelPath := flag.String("kernel", "", "kernel image to load at RAM offset 0")
	dtbPath := flag.String("dtb", "", "device tree blob to load at the top of RAM")
	ramSize := flag.Uint64("ram", platform.DefaultRAMSize, "guest RAM size in bytes")
	tty := flag.Bool("tty", false, "attach the terminal as keyboard/console instead of running headless")
	flag.Parse()

	if *kernelPath == "" {
		log.Fatal("usage: emu -kernel <image> [-dtb <blob>] [-ram <bytes>] [-tty]")
	}

	kernel, err := os.ReadFile(*kernelPath)
	if err != nil {
		log.Fatal(err)
	}
	var dtb []byte
	if *dtbPath != "" {
		dtb, err = os.ReadFile(*dtbPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	ramFile, err := os.CreateTemp("", "rv32ima-ram-*.bin")
	if err != nil {
		log.Fatal(err)
	}
	defer os.Remove(ramFile.Name())
	defer ramFile.Close()
	if err := ramFile.Truncate(int64(*ramSize)); err != nil {
		log.Fatal(err)
	}
	store := backing.NewFile(ramFile, uint32(*ramSize))

	var kb platform.Keyboard
	var console platform.ConsoleSink
	if *tty {
		term, err := hostio.NewTerminalKeyboard()
		if err != nil {
			log.Fatal(err)
		}
		defer term.Close()
		kb = term
		console = hostio.NewStdoutConsole()
	}

	m := platform.New(store, uint32(*ramSize), uint32(len(dtb)), hostio.SystemClock{}, kb, console)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		m.DumpState(bufio.NewWriter(os.Stderr))
		os.Exit(130)
	}()

	if err := m.Run(kernel, dtb); err != nil {
		log.Fatal(err)
	}
}
