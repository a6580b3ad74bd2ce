// Command mount-host is an interactive bench console for the mount
// controller. It frames typed commands with the wire checksum, prints
// validated traffic coming back, and offers a few shorthands for the
// common bench chores.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"mountctl/link"
	"mountctl/protocol"
)

var (
	device = flag.String("device", "/dev/ttyUSB0", "Serial device path")
	baud   = flag.Int("baud", 115200, "Baud rate")
)

const hostVersion = "1.0.0"

func main() {
	flag.Parse()

	fmt.Printf("mount-host console, %s @ %d\n", *device, *baud)

	pc := link.DefaultPortConfig(*device)
	pc.Baud = *baud
	pc.ReadTimeout = 100 * time.Millisecond
	port, err := link.OpenSerial(pc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	go printIncoming(port)

	rl, err := readline.New("> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	seq := 0
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line {
		case "quit", "q":
			return
		case "help", "?":
			printHelp()
			continue
		case "time":
			line = "set time " + protocol.FormatTime(time.Now())
		case "hello":
			send(port, "rpi started", &seq)
			line = "rpi version " + hostVersion
		}
		send(port, line, &seq)
	}
}

// send frames a line with a sequence token and checksum.
func send(w io.Writer, line string, seq *int) {
	*seq++
	tagged := fmt.Sprintf("%s [%03d]", line, *seq)
	fmt.Fprintf(w, "%s\n", protocol.AddChecksum(tagged))
}

// printIncoming validates and echoes controller traffic. Lines failing
// the checksum are still shown, marked, so a corrupt link is visible.
func printIncoming(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			fmt.Printf("\r%s\n> ", line)
			continue
		}
		if protocol.ValidateChecksum(line) {
			fmt.Printf("\r< %s\n> ", protocol.RemoveChecksum(line))
		} else {
			fmt.Printf("\r<!bad checksum> %s\n> ", line)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands are sent raw with a checksum appended. Shorthands:
  hello           announce host (rpi started + rpi version)
  time            send "set time <now>"
  help, ?         this text
  quit, q         leave the console
Typical firmware commands:
  configure motor <ts> <name> <angle> <min> <max> ...
  trajectory <name> <start> <startangle> <end> <endangle>
  goto <name> <angle>
  tune <name> <steps>
  sendstatus <name> <y|n>
  report motor
  clear trajectory
  stop / reset / exit`)
}
