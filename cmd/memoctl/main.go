package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"memo/internal/ipc"
)

func usage() {
	fmt.Println(`usage: memoctl <command> [args]
  record [quality]          start recording (low|medium|high|lossless)
  pause-rec | resume-rec    pause/resume recording
  stop-rec [title]          stop recording and upload
  discard                   discard recording
  play <clip>               play clip (again toggles play/pause)
  pause | stop              pause/stop playback
  seek <seconds>            seek
  skip <seconds>            skip forward/backward
  rate <multiplier>         set playback speed
  trim-range <clip> <a> <b> stage a trim window
  trim <clip>               apply the staged trim
  delete <clip>             delete clip
  status                    current playback state
  quit                      shut the daemon down`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: os.Args[1]}
	args := os.Args[2:]

	switch msg.Cmd {
	case "record":
		if len(args) > 0 {
			msg.Quality = args[0]
		}
	case "stop-rec":
		if len(args) > 0 {
			msg.Title = args[0]
		}
	case "play", "trim", "delete":
		if len(args) < 1 {
			usage()
			os.Exit(2)
		}
		msg.Clip = args[0]
	case "seek", "skip", "rate":
		if len(args) < 1 {
			usage()
			os.Exit(2)
		}
		msg.Value = parseFloat(args[0])
	case "trim-range":
		if len(args) < 3 {
			usage()
			os.Exit(2)
		}
		msg.Clip = args[0]
		msg.Value = parseFloat(args[1])
		msg.Value2 = parseFloat(args[2])
	}

	reply, err := ipc.SendCommand(msg)
	if err != nil {
		fmt.Println("memod not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Println("error:", reply.Error)
		os.Exit(1)
	}
	if reply.Data != nil {
		out, _ := json.MarshalIndent(reply.Data, "", "  ")
		fmt.Println(string(out))
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fmt.Println("bad number:", s)
		os.Exit(2)
	}
	return v
}
