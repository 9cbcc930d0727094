package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagBind       string
	flagUsersFile  string
	flagPSK        string
	flagMaxClients int
	flagHelp       bool
)

func init() {
	flag.StringVarP(&flagBind, "bind", "b", "0.0.0.0:7777", "Address to listen on")
	flag.StringVarP(&flagUsersFile, "users", "u", "users.txt", "User directory file")
	flag.StringVarP(&flagPSK, "psk", "p", "change-me", "Pre-shared key for signaling framing")
	flag.IntVarP(&flagMaxClients, "max-clients", "m", 10, "Maximum concurrent clients")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `Signaling rendezvous server for roomrtc peers

Usage: roomrtcd [OPTION]...

Network:
  -b, --bind=ADDR        Address to listen on (default: 0.0.0.0:7777)
  -m, --max-clients=NUM  Maximum concurrent clients (default: 10)

Authentication:
  -u, --users=FILE       User directory file (default: users.txt)
  -p, --psk=KEY          Pre-shared key for signaling framing (default: change-me)

Miscellaneous:
  -h, --help             Prints this help message and exits

Log level defaults to info; set ROOMRTC_LOG_LEVEL (e.g. "debug" or
"ice=debug,srtp=warn") before starting the process to override it.
`

func help() {
	fmt.Print(color.New(color.Bold).Sprint(helpString))
}
