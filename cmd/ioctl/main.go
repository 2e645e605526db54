// ioctl is an interactive shell over the I/O library of the detected
// device. A single command can also be passed as arguments:
//
//	ioctl do 0 on
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"sysworxx-io/src/server/capi"
)

func main() {
	if res := capi.Init(); res != capi.Success {
		log.Printf("ioctl: init: %v", res)
	}
	defer capi.Shutdown()

	if len(os.Args) > 1 {
		s := &shell{out: os.Stdout}
		s.exec(strings.Join(os.Args[1:], " "))
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "io> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("failed to create readline: %v", err)
	}
	defer rl.Close()

	s := &shell{out: rl.Stdout()}
	s.printHelp()
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return
		}
		if !s.exec(line) {
			return
		}
	}
}
